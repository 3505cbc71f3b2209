package prediction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

var launch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testRequest(descentOnly bool) tracking.PredictionRequest {
	return tracking.PredictionRequest{
		ID:       "req-1",
		Callsign: "W3EAX-8",
		Start: tracking.Sample{
			Time:     launch,
			Position: telemetry.Coordinate{Latitude: 39.359031, Longitude: -77.547824},
			Altitude: 2000,
		},
		Profile:     tracking.DefaultProfile(),
		DescentOnly: descentOnly,
	}
}

const standardResponse = `{
  "metadata": {"start_datetime": "2024-06-01T12:00:01Z", "complete_datetime": "2024-06-01T12:00:02Z"},
  "request": {"profile": "standard_profile", "dataset": "2024-06-01T06:00:00Z"},
  "prediction": [
    {"stage": "ascent", "trajectory": [
      {"altitude": 2000, "datetime": "2024-06-01T12:00:00Z", "latitude": 39.359031, "longitude": 282.452176},
      {"altitude": 28000, "datetime": "2024-06-01T13:18:47Z", "latitude": 39.4, "longitude": 283.1}
    ]},
    {"stage": "descent", "trajectory": [
      {"altitude": 28000, "datetime": "2024-06-01T13:18:47Z", "latitude": 39.4, "longitude": 283.1},
      {"altitude": 150, "datetime": "2024-06-01T13:50:00Z", "latitude": 39.5, "longitude": 283.4}
    ]}
  ],
  "warnings": {}
}`

func newTestClient(server *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL: server.URL,
		Retry: telemetry.RetryConfig{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	})
}

func TestClientURL(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://example.test/tawhiri"})

	t.Run("Standard profile", func(t *testing.T) {
		u, err := url.Parse(c.URL(testRequest(false).Start, tracking.DefaultProfile(), false))
		if err != nil {
			t.Fatal(err)
		}
		q := u.Query()
		want := map[string]string{
			"launch_latitude":  "39.359031",
			"launch_longitude": "282.452176",
			"launch_datetime":  "2024-06-01T12:00:00Z",
			"launch_altitude":  "2000",
			"ascent_rate":      "5.5",
			"burst_altitude":   "28000",
			"descent_rate":     "6.001",
			"profile":          "standard_profile",
		}
		for key, value := range want {
			got := q.Get(key)
			if key == "launch_longitude" {
				if !strings.HasPrefix(got, "282.45217") {
					t.Errorf("%s: expected %s, got %s", key, value, got)
				}
				continue
			}
			if got != value {
				t.Errorf("%s: expected %s, got %s", key, value, got)
			}
		}
		if q.Has("float_altitude") {
			t.Error("Expected no float parameters")
		}
	})

	t.Run("Descent only", func(t *testing.T) {
		q, _ := url.ParseQuery(strings.SplitN(c.URL(testRequest(true).Start, tracking.DefaultProfile(), true), "?", 2)[1])
		if got := q.Get("burst_altitude"); got != "2000.1" {
			t.Errorf("Expected burst 2000.1, got %s", got)
		}
	})

	t.Run("Float profile", func(t *testing.T) {
		profile := tracking.DefaultProfile()
		profile.AscentRate = 5
		profile.Float = &tracking.FloatStage{Altitude: 20000, Duration: time.Hour}
		q, _ := url.ParseQuery(strings.SplitN(c.URL(testRequest(false).Start, profile, false), "?", 2)[1])

		if q.Get("profile") != "float_profile" || q.Get("float_altitude") != "20000" {
			t.Errorf("Unexpected float parameters %v", q)
		}
		// 18000 m at 5 m/s is one hour of climb, then one hour of float
		if got := q.Get("stop_datetime"); got != "2024-06-01T14:00:00Z" {
			t.Errorf("Expected stop 14:00, got %s", got)
		}
	})
}

func TestClientPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, standardResponse)
	}))
	defer server.Close()

	c := newTestClient(server)

	t.Run("Full flight", func(t *testing.T) {
		samples, err := c.Predict(context.Background(), testRequest(false))
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if len(samples) != 4 {
			t.Fatalf("Expected 4 samples, got %d", len(samples))
		}
		last := samples[3]
		if last.Position.Longitude > -76.5 || last.Position.Longitude < -76.7 {
			t.Errorf("Expected longitude mapped to -76.6, got %f", last.Position.Longitude)
		}
		if last.Altitude != 150 {
			t.Errorf("Expected landing at 150 m, got %f", last.Altitude)
		}
	})

	t.Run("Descent only", func(t *testing.T) {
		samples, err := c.Predict(context.Background(), testRequest(true))
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if len(samples) != 2 || samples[0].Altitude != 28000 {
			t.Errorf("Expected only the descent stage, got %+v", samples)
		}
	})
}

func TestClientFloatFollowUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("profile") == "float_profile" {
			fmt.Fprint(w, `{"request": {"profile": "float_profile"}, "prediction": [
				{"stage": "ascent", "trajectory": [{"altitude": 2000, "datetime": "2024-06-01T12:00:00Z", "latitude": 39.3, "longitude": 282.4}]},
				{"stage": "float", "trajectory": [{"altitude": 20000, "datetime": "2024-06-01T14:00:00Z", "latitude": 39.6, "longitude": 284.0}]}
			]}`)
			return
		}
		if got := r.URL.Query().Get("burst_altitude"); got != "20000.1" {
			t.Errorf("Expected descent from float altitude, got burst %s", got)
		}
		fmt.Fprint(w, `{"request": {"profile": "standard_profile"}, "prediction": [
			{"stage": "ascent", "trajectory": []},
			{"stage": "descent", "trajectory": [{"altitude": 0, "datetime": "2024-06-01T14:40:00Z", "latitude": 39.7, "longitude": 284.5}]}
		]}`)
	}))
	defer server.Close()

	req := testRequest(false)
	req.Profile.Float = &tracking.FloatStage{Altitude: 20000, Duration: time.Hour}

	samples, err := newTestClient(server).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if len(samples) != 3 || samples[2].Altitude != 0 {
		t.Errorf("Expected appended descent, got %+v", samples)
	}
}

func TestClientErrors(t *testing.T) {
	t.Run("API error body", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": {"type": "RequestException", "description": "Launch altitude out of range"}}`)
		}))
		defer server.Close()

		_, err := newTestClient(server).Predict(context.Background(), testRequest(false))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %v", err)
		}
		if apiErr.Status != 400 || apiErr.Description != "Launch altitude out of range" {
			t.Errorf("Unexpected APIError %+v", apiErr)
		}
		if calls.Load() != 1 {
			t.Errorf("Expected no retry for a rejected request, got %d calls", calls.Load())
		}
	})

	t.Run("Server error is retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, standardResponse)
		}))
		defer server.Close()

		if _, err := newTestClient(server).Predict(context.Background(), testRequest(false)); err != nil {
			t.Errorf("Expected retry to succeed, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("Expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("Malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"prediction": [`)
		}))
		defer server.Close()

		_, err := newTestClient(server).Predict(context.Background(), testRequest(false))
		if !errors.Is(err, tracking.ErrPredictionResponseMalformed) {
			t.Errorf("Expected malformed response, got %v", err)
		}
	})

	t.Run("Missing descent stage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"request": {"profile": "standard_profile"}, "prediction": [{"stage": "ascent", "trajectory": []}]}`)
		}))
		defer server.Close()

		_, err := newTestClient(server).Predict(context.Background(), testRequest(true))
		if !errors.Is(err, ErrNoDescentStage) {
			t.Errorf("Expected ErrNoDescentStage, got %v", err)
		}
	})
}
