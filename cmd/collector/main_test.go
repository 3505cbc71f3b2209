package main

import (
	"testing"

	"github.com/unklstewy/balloonscope/pkg/tracking"
)

func TestChangedTracks(t *testing.T) {
	versions := make(map[string]uint64)
	snapshot := &tracking.Snapshot{Tracks: []*tracking.TrackView{
		{Callsign: "AB1CD", Version: 1},
		{Callsign: "W3EAX-8", Version: 3},
	}}

	if got := changedTracks(snapshot, versions); len(got) != 2 {
		t.Fatalf("Expected both tracks on first snapshot, got %d", len(got))
	}
	if got := changedTracks(snapshot, versions); len(got) != 0 {
		t.Errorf("Expected no changes on repeat, got %d", len(got))
	}

	snapshot.Tracks[1] = &tracking.TrackView{Callsign: "W3EAX-8", Version: 4}
	got := changedTracks(snapshot, versions)
	if len(got) != 1 || got[0].Callsign != "W3EAX-8" {
		t.Errorf("Expected only W3EAX-8, got %v", got)
	}
}
