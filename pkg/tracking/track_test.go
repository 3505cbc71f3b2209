package tracking

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// packetAt builds a packet t seconds after epoch, drifting east slowly so
// that every fix has a distinct position.
func packetAt(callsign string, seconds int, altitude float64) telemetry.Packet {
	return telemetry.Packet{
		Callsign: callsign,
		Time:     epoch.Add(time.Duration(seconds) * time.Second),
		Position: telemetry.Coordinate{Latitude: 39.7, Longitude: -77.9 + float64(seconds)*0.001},
		Altitude: telemetry.Meters(altitude),
		Source:   "test",
	}
}

func mustInsert(t *testing.T, track *Track, p telemetry.Packet) {
	t.Helper()
	outcome, _, err := track.insert(p, 0)
	if err != nil {
		t.Fatalf("insert %s: %v", p, err)
	}
	if outcome != Inserted {
		t.Fatalf("insert %s: expected Inserted, got %s", p, outcome)
	}
}

func TestTrackInsertInOrder(t *testing.T) {
	track := newTrack("W3EAX-8")
	mustInsert(t, track, packetAt("W3EAX-8", 0, 100))
	mustInsert(t, track, packetAt("W3EAX-8", 60, 500))
	mustInsert(t, track, packetAt("W3EAX-8", 120, 1500))

	if track.Len() != 3 {
		t.Fatalf("Expected 3 packets, got %d", track.Len())
	}
	metrics := track.Metrics()
	if len(metrics) != 2 {
		t.Fatalf("Expected 2 metrics, got %d", len(metrics))
	}

	want := (1500.0 - 500.0) / 60.0
	if math.Abs(metrics[1].AscentRate-want) > 1e-9 {
		t.Errorf("Expected ascent rate %.4f, got %.4f", want, metrics[1].AscentRate)
	}
	if metrics[1].Interval != time.Minute {
		t.Errorf("Expected interval 1m, got %v", metrics[1].Interval)
	}
	if !metrics[0].HasAltitude {
		t.Error("Expected metrics to carry altitude")
	}
	if metrics[0].Distance <= 0 || metrics[0].GroundSpeed <= 0 {
		t.Errorf("Expected positive distance and speed, got %f m, %f m/s", metrics[0].Distance, metrics[0].GroundSpeed)
	}
	if math.Abs(metrics[0].Bearing-90) > 1 {
		t.Errorf("Expected bearing near 90, got %f", metrics[0].Bearing)
	}
}

func TestTrackInsertOutOfOrder(t *testing.T) {
	track := newTrack("W3EAX-8")
	mustInsert(t, track, packetAt("W3EAX-8", 0, 100))
	mustInsert(t, track, packetAt("W3EAX-8", 60, 500))
	mustInsert(t, track, packetAt("W3EAX-8", 120, 1500))
	tail := track.Metrics()[1]

	mustInsert(t, track, packetAt("W3EAX-8", 30, 300))

	wantTimes := []int{0, 30, 60, 120}
	for i, s := range wantTimes {
		want := epoch.Add(time.Duration(s) * time.Second)
		if !track.Packet(i).Time.Equal(want) {
			t.Errorf("Packet %d: expected time %v, got %v", i, want, track.Packet(i).Time)
		}
	}

	metrics := track.Metrics()
	if len(metrics) != 3 {
		t.Fatalf("Expected 3 metrics, got %d", len(metrics))
	}
	if metrics[0].Interval != 30*time.Second || math.Abs(metrics[0].AscentRate-200.0/30) > 1e-9 {
		t.Errorf("Expected 0/30 metrics recomputed, got %+v", metrics[0])
	}
	if metrics[1].Interval != 30*time.Second || math.Abs(metrics[1].AscentRate-200.0/30) > 1e-9 {
		t.Errorf("Expected 30/60 metrics recomputed, got %+v", metrics[1])
	}
	if metrics[2] != tail {
		t.Errorf("Expected 60/120 metrics unchanged, got %+v want %+v", metrics[2], tail)
	}
}

func TestTrackInsertAtFront(t *testing.T) {
	track := newTrack("N0CALL")
	mustInsert(t, track, packetAt("N0CALL", 60, 500))
	mustInsert(t, track, packetAt("N0CALL", 0, 100))

	metrics := track.Metrics()
	if len(metrics) != 1 {
		t.Fatalf("Expected 1 metric, got %d", len(metrics))
	}
	if metrics[0].Ascent != 400 {
		t.Errorf("Expected ascent 400, got %f", metrics[0].Ascent)
	}
}

func TestTrackDuplicates(t *testing.T) {
	t.Run("Exact duplicate is ignored", func(t *testing.T) {
		track := newTrack("W3EAX-8")
		p := packetAt("W3EAX-8", 0, 100)
		mustInsert(t, track, p)

		outcome, kind, err := track.insert(p, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if outcome != DuplicateIgnored || kind != exactDuplicate {
			t.Errorf("Expected exact duplicate, got %s/%d", outcome, kind)
		}
		if track.Len() != 1 {
			t.Errorf("Expected 1 packet, got %d", track.Len())
		}
	})

	t.Run("Sub-second jitter and coordinate noise are duplicates", func(t *testing.T) {
		track := newTrack("W3EAX-8")
		p := packetAt("W3EAX-8", 0, 100)
		mustInsert(t, track, p)

		q := p
		q.Time = q.Time.Add(300 * time.Millisecond)
		q.Position.Latitude += 0.00005
		q.Source = "other"

		outcome, _, err := track.insert(q, 0)
		if err != nil || outcome != DuplicateIgnored {
			t.Errorf("Expected duplicate, got %s, %v", outcome, err)
		}
	})

	t.Run("Coarser resolution widens the instant", func(t *testing.T) {
		track := newTrack("W3EAX-8")
		p := packetAt("W3EAX-8", 0, 100)
		mustInsert(t, track, p)

		q := p
		q.Time = q.Time.Add(20 * time.Second)
		q.Resolution = time.Minute

		outcome, _, err := track.insert(q, 0)
		if err != nil || outcome != DuplicateIgnored {
			t.Errorf("Expected duplicate, got %s, %v", outcome, err)
		}
	})

	t.Run("Conflicting position at the same instant is rejected", func(t *testing.T) {
		track := newTrack("W3EAX-8")
		p := packetAt("W3EAX-8", 0, 100)
		mustInsert(t, track, p)

		q := p
		q.Position.Latitude += 0.01
		_, _, err := track.insert(q, 0)
		if !errors.Is(err, ErrConflictingPacket) {
			t.Errorf("Expected ErrConflictingPacket, got %v", err)
		}
		if track.Packet(0).Position != p.Position {
			t.Error("Expected first packet to win")
		}
	})

	t.Run("Time-lagged repeat within window", func(t *testing.T) {
		track := newTrack("W3EAX-8")
		p := packetAt("W3EAX-8", 0, 100)
		mustInsert(t, track, p)

		q := p
		q.Time = q.Time.Add(30 * time.Second)

		outcome, kind, err := track.insert(q, time.Minute)
		if err != nil || outcome != DuplicateIgnored || kind != laggedDuplicate {
			t.Errorf("Expected lagged duplicate, got %s/%d, %v", outcome, kind, err)
		}

		outcome, _, err = track.insert(q, 0)
		if err != nil || outcome != Inserted {
			t.Errorf("Expected insert with lag check disabled, got %s, %v", outcome, err)
		}
	})
}

func TestTrackArbitraryOrder(t *testing.T) {
	seconds := make([]int, 50)
	for i := range seconds {
		seconds[i] = i * 10
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(seconds), func(i, j int) { seconds[i], seconds[j] = seconds[j], seconds[i] })

	track := newTrack("KD2XYZ-11")
	for _, s := range seconds {
		mustInsert(t, track, packetAt("KD2XYZ-11", s, float64(s)))
	}

	reference := newTrack("KD2XYZ-11")
	for i := range 50 {
		mustInsert(t, reference, packetAt("KD2XYZ-11", i*10, float64(i*10)))
	}

	got, want := track.Metrics(), reference.Metrics()
	if len(got) != len(want) {
		t.Fatalf("Expected %d metrics, got %d", len(want), len(got))
	}
	for i := range got {
		if !track.Packet(i).Time.Before(track.Packet(i + 1).Time) {
			t.Fatalf("Packets %d and %d out of order", i, i+1)
		}
		if math.Abs(got[i].Distance-want[i].Distance) > 1e-6 || got[i].AscentRate != want[i].AscentRate {
			t.Errorf("Metric %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestTrackPrune(t *testing.T) {
	track := newTrack("W3EAX-8")
	for _, s := range []int{0, 60, 120, 180} {
		mustInsert(t, track, packetAt("W3EAX-8", s, float64(s)))
	}
	version := track.Version()

	removed := track.pruneBefore(epoch.Add(90 * time.Second))
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if track.Len() != 2 || len(track.Metrics()) != 1 {
		t.Errorf("Expected 2 packets and 1 metric, got %d and %d", track.Len(), len(track.Metrics()))
	}
	if track.Version() == version {
		t.Error("Expected version to change")
	}

	if removed := track.pruneBefore(epoch); removed != 0 {
		t.Errorf("Expected nothing removed, got %d", removed)
	}

	removed = track.pruneBefore(epoch.Add(time.Hour))
	if removed != 2 || track.Len() != 0 || len(track.Metrics()) != 0 {
		t.Errorf("Expected empty track, got %d packets", track.Len())
	}
}

func TestTrackLastWithAltitude(t *testing.T) {
	track := newTrack("W3EAX-8")
	mustInsert(t, track, packetAt("W3EAX-8", 0, 100))
	p := packetAt("W3EAX-8", 60, 0)
	p.Altitude = telemetry.NoAltitude
	mustInsert(t, track, p)

	last, _ := track.Last()
	if last.Altitude.Valid {
		t.Error("Expected last packet without altitude")
	}
	withAltitude, ok := track.LastWithAltitude()
	if !ok || withAltitude.Altitude.Meters != 100 {
		t.Errorf("Expected altitude 100, got %v", withAltitude.Altitude)
	}
	if track.Metrics()[0].HasAltitude {
		t.Error("Expected metrics without altitude")
	}
}
