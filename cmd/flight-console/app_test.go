package main

import (
	"strings"
	"testing"
	"time"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

type fakePoller struct {
	snapshot *tracking.Snapshot
	updates  chan *tracking.Snapshot
	triggers int
}

func (f *fakePoller) Latest() *tracking.Snapshot        { return f.snapshot }
func (f *fakePoller) Updates() <-chan *tracking.Snapshot { return f.updates }
func (f *fakePoller) Trigger()                           { f.triggers++ }

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T) *tracking.Snapshot {
	t.Helper()
	registry := tracking.NewRegistry(tracking.RegistryConfig{})
	for i, call := range []string{"AB1CD", "W3EAX-8"} {
		for j := 0; j < 2; j++ {
			p := telemetry.Packet{
				Callsign: call,
				Time:     epoch.Add(time.Duration(j) * time.Minute),
				Position: telemetry.Coordinate{Latitude: 40 + float64(i), Longitude: -105 + 0.01*float64(j)},
				Altitude: telemetry.Meters(100 + 300*float64(j)),
				Source:   "test",
			}
			if _, err := registry.Ingest(p); err != nil {
				t.Fatalf("ingest: %v", err)
			}
		}
	}
	return registry.Snapshot(epoch.Add(2*time.Minute), tracking.NewClassifier(tracking.DefaultPhaseConfig(), tracking.DefaultProfile()))
}

func TestApplyKeepsSelection(t *testing.T) {
	loop := &fakePoller{updates: make(chan *tracking.Snapshot)}
	app := NewApp("test", loop, logging.NewBuffer(10), nil)

	snapshot := testSnapshot(t)
	app.apply(snapshot, epoch)

	if got := app.tracks.GetItemCount(); got != 2 {
		t.Fatalf("expected 2 list items, got %d", got)
	}
	if app.selected != "AB1CD" {
		t.Errorf("expected first track selected, got %q", app.selected)
	}

	app.tracks.SetCurrentItem(1)
	if app.selected != "W3EAX-8" {
		t.Fatalf("expected selection to follow the list, got %q", app.selected)
	}

	app.apply(snapshot, epoch)
	if app.tracks.GetCurrentItem() != 1 || app.selected != "W3EAX-8" {
		t.Errorf("selection lost after refresh: item %d, callsign %q", app.tracks.GetCurrentItem(), app.selected)
	}
}

func TestTelemetryText(t *testing.T) {
	view, ok := testSnapshot(t).Track("W3EAX-8")
	if !ok {
		t.Fatal("track not found")
	}
	text := telemetryText(view, epoch.Add(2*time.Minute), nil)

	for _, want := range []string{"W3EAX-8", "ASCENDING", "400 m", "1m0s ago"} {
		if !strings.Contains(text, want) {
			t.Errorf("telemetry missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Antenna") {
		t.Error("unexpected antenna row without a station")
	}

	station := &coordinates.Geographic{Latitude: 40.5, Longitude: -105}
	if text := telemetryText(view, epoch.Add(2*time.Minute), station); !strings.Contains(text, "Antenna") {
		t.Errorf("expected antenna row with a station:\n%s", text)
	}
}

func TestColorForLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`time=x level=ERROR msg="source failed"`, "red"},
		{`{"time":"x","level":"WARN","msg":"slow"}`, "yellow"},
		{`time=x level=DEBUG msg=tick`, "gray"},
		{`time=x level=INFO msg=started`, "white"},
	}
	for _, tt := range tests {
		if got := colorForLine(tt.line); got != tt.want {
			t.Errorf("colorForLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestFormatLinesEscapesTags(t *testing.T) {
	got := formatLines([]string{"level=INFO msg=[red]"})
	if !strings.Contains(got, "[red[]") {
		t.Errorf("expected escaped tag, got %q", got)
	}
}
