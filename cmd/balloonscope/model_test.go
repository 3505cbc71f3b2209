package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/balloonscope/internal/logging"
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

func snapshotOf(t *testing.T, callsigns ...string) *tracking.Snapshot {
	t.Helper()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := tracking.NewRegistry(tracking.RegistryConfig{})
	for _, callsign := range callsigns {
		for i, alt := range []float64{100, 400} {
			_, err := registry.Ingest(telemetry.Packet{
				Callsign: callsign,
				Time:     start.Add(time.Duration(i) * time.Minute),
				Position: telemetry.Coordinate{Latitude: 39.7, Longitude: -77.9 + float64(i)*0.01},
				Altitude: telemetry.Meters(alt),
				Source:   "serial",
			})
			if err != nil {
				t.Fatalf("Ingest failed: %v", err)
			}
		}
	}
	return registry.Snapshot(start.Add(2*time.Minute), tracking.NewClassifier(tracking.DefaultPhaseConfig(), tracking.DefaultProfile()))
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(m model, msg tea.Msg) (model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func TestTabs(t *testing.T) {
	loop := &fakePoller{snapshot: snapshotOf(t, "AB1CD", "W3EAX-8")}
	m := newModel("test", loop, logging.NewBuffer(10))

	if m.tab != 0 {
		t.Fatalf("Expected log tab first, got %d", m.tab)
	}

	m, _ = update(m, key("right"))
	if m.callsign != "AB1CD" {
		t.Errorf("Expected AB1CD, got %q", m.callsign)
	}

	m, _ = update(m, key("left"))
	m, _ = update(m, key("left"))
	if m.callsign != "W3EAX-8" {
		t.Errorf("Expected wrap to W3EAX-8, got %q", m.callsign)
	}

	// A new track sorted before the selection keeps the selection
	m, _ = update(m, snapshotMsg(snapshotOf(t, "AA0AA", "AB1CD", "W3EAX-8")))
	if m.tab != 3 || m.currentTrack().Callsign != "W3EAX-8" {
		t.Errorf("Expected W3EAX-8 on tab 3, got tab %d", m.tab)
	}
}

func TestKeys(t *testing.T) {
	loop := &fakePoller{snapshot: snapshotOf(t, "W3EAX-8")}
	m := newModel("test", loop, logging.NewBuffer(10))

	m, _ = update(m, key("r"))
	if loop.triggers != 1 {
		t.Errorf("Expected r to trigger a poll, got %d triggers", loop.triggers)
	}

	for _, k := range []string{"q", "esc"} {
		_, cmd := update(m, key(k))
		if cmd == nil {
			t.Fatalf("Expected %s to quit", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("Expected %s to quit", k)
		}
	}
}

func TestView(t *testing.T) {
	loop := &fakePoller{snapshot: snapshotOf(t, "W3EAX-8")}
	logs := logging.NewBuffer(10)
	logs.Write([]byte("level=WARN msg=\"source unavailable\"\n"))
	m := newModel("balloonscope", loop, logs)

	if out := m.View(); !strings.Contains(out, "source unavailable") {
		t.Errorf("Expected log line in log view, got:\n%s", out)
	}

	m, _ = update(m, key("1"))
	out := m.View()
	for _, want := range []string{"W3EAX-8", "ASCENDING", "400"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in track view, got:\n%s", want, out)
		}
	}
}
