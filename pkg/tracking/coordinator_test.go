package tracking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

func newTestCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := NewCoordinator(cfg, NewClassifier(DefaultPhaseConfig(), DefaultProfile()))
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
	return c
}

func trajectoryFrom(start Sample) []Sample {
	return []Sample{
		start,
		{Time: start.Time.Add(time.Hour), Position: telemetry.Coordinate{Latitude: start.Position.Latitude + 0.2, Longitude: start.Position.Longitude + 0.5}, Altitude: 28000},
		{Time: start.Time.Add(2 * time.Hour), Position: telemetry.Coordinate{Latitude: start.Position.Latitude + 0.3, Longitude: start.Position.Longitude + 1}, Altitude: 0},
	}
}

func TestCoordinatorSingleRequestPerInterval(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorConfig())
	track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
	now := epoch.Add(3 * time.Minute)

	requests := 0
	var req PredictionRequest
	for i := range 30 {
		if r, ok := c.MaybeRequest(track, now.Add(time.Duration(i)*time.Second)); ok {
			requests++
			req = r
		}
	}
	if requests != 1 {
		t.Fatalf("Expected exactly one request, got %d", requests)
	}
	if req.Callsign != "W3EAX-8" || req.Phase != PhaseAscending {
		t.Errorf("Unexpected request %+v", req)
	}
	if req.Start.Altitude != 1500 {
		t.Errorf("Expected start altitude 1500, got %f", req.Start.Altitude)
	}

	// Even after the interval, an outstanding request blocks a new one.
	if _, ok := c.MaybeRequest(track, now.Add(time.Hour)); ok {
		t.Error("Expected no request while one is outstanding")
	}

	if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Success, same phase, no divergence: no re-request.
	if _, ok := c.MaybeRequest(track, now.Add(time.Hour)); ok {
		t.Error("Expected no re-request without phase change or divergence")
	}
}

func TestCoordinatorApply(t *testing.T) {
	t.Run("Success attaches trajectory", func(t *testing.T) {
		c := newTestCoordinator(DefaultCoordinatorConfig())
		track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
		req, ok := c.MaybeRequest(track, epoch.Add(3*time.Minute))
		if !ok {
			t.Fatal("Expected request")
		}
		version := track.Version()

		if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		prediction := track.Prediction()
		if prediction == nil || prediction.RequestID != req.ID {
			t.Fatalf("Expected prediction for %s, got %+v", req.ID, prediction)
		}
		landing, _ := prediction.Landing()
		if landing.Altitude != 0 {
			t.Errorf("Expected landing at 0 m, got %f", landing.Altitude)
		}
		burst, _ := prediction.Burst()
		if burst.Altitude != 28000 {
			t.Errorf("Expected burst at 28000 m, got %f", burst.Altitude)
		}
		if track.Version() == version {
			t.Error("Expected version to change")
		}
	})

	t.Run("Failure keeps previous prediction", func(t *testing.T) {
		c := newTestCoordinator(DefaultCoordinatorConfig())
		track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
		now := epoch.Add(3 * time.Minute)

		req, _ := c.MaybeRequest(track, now)
		if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); err != nil {
			t.Fatal(err)
		}
		previous := track.Prediction()

		if _, _, err := track.insert(packetAt("W3EAX-8", 240, 400), 0); err != nil {
			t.Fatal(err)
		}
		req, ok := c.MaybeRequest(track, now.Add(2*time.Minute))
		if !ok {
			t.Fatal("Expected re-request after divergence")
		}

		err := c.Apply(track, req, nil, errors.New("connection refused"))
		if !errors.Is(err, ErrPredictionRequestFailed) {
			t.Errorf("Expected ErrPredictionRequestFailed, got %v", err)
		}
		if track.Prediction() != previous {
			t.Error("Expected previous prediction to be kept")
		}
		if st := c.Status("W3EAX-8"); st.Failures != 1 || st.Outstanding {
			t.Errorf("Unexpected status %+v", st)
		}

		// A failure is retried once the interval has passed.
		if _, ok := c.MaybeRequest(track, now.Add(2*time.Minute+30*time.Second)); ok {
			t.Error("Expected no retry within the interval")
		}
		if _, ok := c.MaybeRequest(track, now.Add(3*time.Minute)); !ok {
			t.Error("Expected retry after the interval")
		}
	})

	t.Run("Malformed response", func(t *testing.T) {
		c := newTestCoordinator(DefaultCoordinatorConfig())
		track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
		req, _ := c.MaybeRequest(track, epoch.Add(3*time.Minute))

		bad := trajectoryFrom(req.Start)
		bad[1], bad[2] = bad[2], bad[1]
		err := c.Apply(track, req, bad, nil)
		if !errors.Is(err, ErrPredictionResponseMalformed) || !errors.Is(err, ErrPredictionRequestFailed) {
			t.Errorf("Expected malformed response error, got %v", err)
		}
		if track.Prediction() != nil {
			t.Error("Expected no prediction")
		}

		if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); !errors.Is(err, ErrPredictionRequestFailed) {
			t.Errorf("Expected stale response to be rejected, got %v", err)
		}
	})

	t.Run("Discarded request", func(t *testing.T) {
		c := newTestCoordinator(DefaultCoordinatorConfig())
		track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
		req, _ := c.MaybeRequest(track, epoch.Add(3*time.Minute))
		c.Discard(req)

		if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); err == nil {
			t.Error("Expected discarded request to be rejected")
		}
		if c.Status("W3EAX-8").Outstanding {
			t.Error("Expected nothing outstanding")
		}
	})
}

func TestCoordinatorDivergence(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorConfig())
	track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
	now := epoch.Add(3 * time.Minute)

	req, _ := c.MaybeRequest(track, now)
	if err := c.Apply(track, req, trajectoryFrom(req.Start), nil); err != nil {
		t.Fatal(err)
	}

	p := packetAt("W3EAX-8", 180, 2500)
	p.Position.Longitude += 0.05
	if _, _, err := track.insert(p, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.MaybeRequest(track, now.Add(30*time.Second)); ok {
		t.Error("Expected no request within the interval")
	}
	next, ok := c.MaybeRequest(track, now.Add(2*time.Minute))
	if !ok {
		t.Fatal("Expected re-request after divergence")
	}
	if next.ID == req.ID {
		t.Error("Expected a new request ID")
	}
}

func TestCoordinatorLanded(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorConfig())
	track := trackFrom("W3EAX-8", 5, 1000, 800, 600, 400, 200, 40, 30, 20)

	if _, ok := c.MaybeRequest(track, epoch.Add(time.Hour)); ok {
		t.Error("Expected no request for a landed track")
	}
}

func TestCoordinatorDefaultStart(t *testing.T) {
	track := newTrack("W3EAX-8")
	p := packetAt("W3EAX-8", 0, 0)
	p.Altitude = telemetry.NoAltitude
	if _, _, err := track.insert(p, 0); err != nil {
		t.Fatal(err)
	}

	t.Run("Without default start", func(t *testing.T) {
		c := newTestCoordinator(DefaultCoordinatorConfig())
		if _, ok := c.MaybeRequest(track, epoch); ok {
			t.Error("Expected no request without altitude")
		}
	})

	t.Run("With default start", func(t *testing.T) {
		cfg := DefaultCoordinatorConfig()
		cfg.DefaultStart = &Sample{Position: telemetry.Coordinate{Latitude: 39, Longitude: -77}, Altitude: 150}
		c := newTestCoordinator(cfg)

		now := epoch.Add(time.Minute)
		req, ok := c.MaybeRequest(track, now)
		if !ok {
			t.Fatal("Expected request from default start")
		}
		if req.Start.Altitude != 150 || !req.Start.Time.Equal(now) {
			t.Errorf("Unexpected start %+v", req.Start)
		}
		if req.DescentOnly {
			t.Error("Expected full flight prediction")
		}
	})
}

func TestCoordinatorForget(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorConfig())
	track := trackFrom("W3EAX-8", 60, 100, 500, 1500)
	now := epoch.Add(3 * time.Minute)

	if _, ok := c.MaybeRequest(track, now); !ok {
		t.Fatal("Expected request")
	}
	c.Forget("W3EAX-8")
	if _, ok := c.MaybeRequest(track, now); !ok {
		t.Error("Expected request after forgetting state")
	}
}
