package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

func TestRegistryIngest(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	for _, s := range []int{0, 60, 120} {
		outcome, err := r.Ingest(packetAt("w3eax-8", s, float64(s)))
		if err != nil || outcome != Inserted {
			t.Fatalf("Expected insert, got %s, %v", outcome, err)
		}
	}
	outcome, err := r.Ingest(packetAt("W3EAX-8", 60, 60))
	if err != nil || outcome != DuplicateIgnored {
		t.Errorf("Expected duplicate, got %s, %v", outcome, err)
	}

	track, ok := r.Track("W3EAX-8")
	if !ok {
		t.Fatal("Expected track for normalized callsign")
	}
	if track.Len() != 3 {
		t.Errorf("Expected 3 packets, got %d", track.Len())
	}

	stats := r.Stats()
	if stats.Inserted != 3 || stats.Duplicates != 1 {
		t.Errorf("Expected 3 inserted and 1 duplicate, got %+v", stats)
	}
}

func TestRegistryRejects(t *testing.T) {
	t.Run("Malformed packet", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		p := packetAt("W3EAX-8", 0, 100)
		p.Position.Latitude = 95

		_, err := r.Ingest(p)
		if !errors.Is(err, telemetry.ErrMalformedPacket) {
			t.Errorf("Expected ErrMalformedPacket, got %v", err)
		}
		if r.Len() != 0 || r.Stats().Malformed != 1 {
			t.Errorf("Expected no track and one malformed, got %d, %+v", r.Len(), r.Stats())
		}
	})

	t.Run("Conflict does not create a track", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		p := packetAt("W3EAX-8", 0, 100)
		if _, err := r.Ingest(p); err != nil {
			t.Fatal(err)
		}
		p.Position.Longitude += 1
		if _, err := r.Ingest(p); !errors.Is(err, ErrConflictingPacket) {
			t.Errorf("Expected ErrConflictingPacket, got %v", err)
		}
		if r.Stats().Conflicts != 1 {
			t.Errorf("Expected one conflict, got %+v", r.Stats())
		}
	})

	t.Run("Callsign filter", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{Callsigns: []string{"w3eax-8"}})
		if _, err := r.Ingest(packetAt("W3EAX-8", 0, 100)); err != nil {
			t.Errorf("Expected tracked callsign to be accepted, got %v", err)
		}
		if _, err := r.Ingest(packetAt("N0CALL", 0, 100)); !errors.Is(err, ErrFiltered) {
			t.Errorf("Expected ErrFiltered, got %v", err)
		}
		if r.Len() != 1 {
			t.Errorf("Expected 1 track, got %d", r.Len())
		}
	})

	t.Run("Time window", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{Start: epoch.Add(time.Minute), End: epoch.Add(time.Hour)})
		if _, err := r.Ingest(packetAt("W3EAX-8", 0, 100)); !errors.Is(err, ErrFiltered) {
			t.Errorf("Expected early packet filtered, got %v", err)
		}
		if _, err := r.Ingest(packetAt("W3EAX-8", 7200, 100)); !errors.Is(err, ErrFiltered) {
			t.Errorf("Expected late packet filtered, got %v", err)
		}
		if _, err := r.Ingest(packetAt("W3EAX-8", 120, 100)); err != nil {
			t.Errorf("Expected packet in window accepted, got %v", err)
		}
		if r.Stats().Filtered != 2 {
			t.Errorf("Expected 2 filtered, got %d", r.Stats().Filtered)
		}
	})
}

func TestRegistryReceiptTime(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	p := packetAt("W3EAX-8", 0, 100)
	p.Received = p.Time.Add(5 * time.Second)
	p.Time = time.Time{}

	if _, err := r.Ingest(p); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	track, _ := r.Track("W3EAX-8")
	if !track.Packet(0).Time.Equal(p.Received) {
		t.Errorf("Expected receipt time, got %v", track.Packet(0).Time)
	}
}

func TestRegistryTracksSorted(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	for _, c := range []string{"KD2XYZ-11", "AB1CD", "W3EAX-8"} {
		if _, err := r.Ingest(packetAt(c, 0, 100)); err != nil {
			t.Fatal(err)
		}
	}
	tracks := r.Tracks()
	want := []string{"AB1CD", "KD2XYZ-11", "W3EAX-8"}
	for i, track := range tracks {
		if track.Callsign() != want[i] {
			t.Errorf("Track %d: expected %s, got %s", i, want[i], track.Callsign())
		}
	}
}

func TestRegistrySetCallsignFilter(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	for _, c := range []string{"AB1CD", "W3EAX-8"} {
		if _, err := r.Ingest(packetAt(c, 0, 100)); err != nil {
			t.Fatal(err)
		}
	}
	evicted := r.SetCallsignFilter([]string{"W3EAX-8"})
	if len(evicted) != 1 || evicted[0] != "AB1CD" {
		t.Errorf("Expected AB1CD evicted, got %v", evicted)
	}
	if _, ok := r.Track("AB1CD"); ok {
		t.Error("Expected evicted track to be gone")
	}
	if evicted := r.SetCallsignFilter(nil); evicted != nil {
		t.Errorf("Expected nothing evicted when clearing the filter, got %v", evicted)
	}
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry(RegistryConfig{Retention: time.Hour})
	for _, s := range []int{0, 1800, 3600} {
		if _, err := r.Ingest(packetAt("W3EAX-8", s, 100)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Ingest(packetAt("AB1CD", 0, 100)); err != nil {
		t.Fatal(err)
	}

	removed := r.Prune(epoch.Add(90 * time.Minute))
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if r.Len() != 1 {
		t.Errorf("Expected empty track dropped, got %d tracks", r.Len())
	}
	if r.Stats().Pruned != 2 {
		t.Errorf("Expected 2 pruned, got %d", r.Stats().Pruned)
	}

	if removed := NewRegistry(RegistryConfig{}).Prune(epoch); removed != 0 {
		t.Errorf("Expected no pruning without retention, got %d", removed)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	classifier := NewClassifier(DefaultPhaseConfig(), DefaultProfile())
	for _, s := range []int{0, 60, 120} {
		if _, err := r.Ingest(packetAt("W3EAX-8", s, float64(100+s*10))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Ingest(packetAt("AB1CD", 0, 100)); err != nil {
		t.Fatal(err)
	}

	first := r.Snapshot(epoch, classifier)
	if len(first.Tracks) != 2 || first.PacketCount() != 4 {
		t.Fatalf("Expected 2 tracks with 4 packets, got %d, %d", len(first.Tracks), first.PacketCount())
	}
	view, ok := first.Track("w3eax-8")
	if !ok {
		t.Fatal("Expected view for W3EAX-8")
	}
	if view.Phase() != PhaseAscending {
		t.Errorf("Expected ascending, got %s", view.Phase())
	}
	if _, ok := first.Track("NOPE"); ok {
		t.Error("Expected no view for unknown callsign")
	}

	if _, err := r.Ingest(packetAt("W3EAX-8", 180, 2000)); err != nil {
		t.Fatal(err)
	}
	second := r.Snapshot(epoch.Add(time.Minute), classifier)

	if len(view.Packets) != 3 {
		t.Errorf("Expected published view to be unchanged, got %d packets", len(view.Packets))
	}
	updated, _ := second.Track("W3EAX-8")
	if len(updated.Packets) != 4 {
		t.Errorf("Expected updated view with 4 packets, got %d", len(updated.Packets))
	}
	before, _ := first.Track("AB1CD")
	after, _ := second.Track("AB1CD")
	if before != after {
		t.Error("Expected unchanged track to reuse its view")
	}
}
