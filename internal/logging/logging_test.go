package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var out bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &out})

	log.With(String("callsign", "W3EAX-8")).Debug(context.Background(), "packet ingested",
		Int("packets", 3), Err(errors.New("boom")))

	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out.String(), err)
	}
	if record["msg"] != "packet ingested" || record["callsign"] != "W3EAX-8" {
		t.Errorf("Unexpected record %v", record)
	}
	if record["packets"] != float64(3) || record["error"] != "boom" {
		t.Errorf("Unexpected fields %v", record)
	}
}

func TestLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	log := New(Config{Level: "warn", Output: &out})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	if strings.Contains(out.String(), "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(out.String(), "shown") {
		t.Error("Expected warn to be logged")
	}
}

func TestNoop(t *testing.T) {
	log := Noop().With(String("k", "v"))
	log.Error(context.Background(), "dropped")
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(3)
	notified := 0
	b.OnWrite(func() { notified++ })

	b.Write([]byte("one\ntwo\nthr"))
	b.Write([]byte("ee\nfour\n"))

	lines := b.Lines()
	want := []string{"two", "three", "four"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, lines)
	}
	if notified != 2 {
		t.Errorf("Expected 2 notifications, got %d", notified)
	}
	if tail := b.Tail(1); len(tail) != 1 || tail[0] != "four" {
		t.Errorf("Expected tail [four], got %v", tail)
	}
}
