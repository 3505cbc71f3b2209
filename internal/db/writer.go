package db

import (
	"context"
	"fmt"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// writeRetries is how often a write is retried after a connection failure.
const writeRetries = 3

type packetInserter interface {
	Insert(ctx context.Context, packets []telemetry.Packet) (int, error)
}

type predictionSaver interface {
	Save(ctx context.Context, callsign string, p *tracking.PredictedTrajectory) error
}

// Writer persists snapshots: new packets and changed predictions. It
// remembers which packets it already wrote, so each snapshot costs only the
// packets added since.
type Writer struct {
	packets     packetInserter
	predictions predictionSaver

	versions map[string]uint64
	written  map[string]map[int64]struct{}
	requests map[string]string
}

// NewWriter creates a snapshot writer on db.
func NewWriter(db *DB) *Writer {
	return newWriter(NewPacketRepository(db), NewPredictionRepository(db))
}

func newWriter(packets packetInserter, predictions predictionSaver) *Writer {
	return &Writer{
		packets:     packets,
		predictions: predictions,
		versions:    make(map[string]uint64),
		written:     make(map[string]map[int64]struct{}),
		requests:    make(map[string]string),
	}
}

func (w *Writer) Name() string { return "database" }

// Write stores every track that changed since the previous call. Writes
// failing on a lost connection are retried; a failed track is written again
// in full by the next call.
func (w *Writer) Write(ctx context.Context, snapshot *tracking.Snapshot) error {
	present := make(map[string]bool, len(snapshot.Tracks))
	for _, view := range snapshot.Tracks {
		present[view.Callsign] = true
		if w.versions[view.Callsign] == view.Version {
			continue
		}

		fresh := w.unwritten(view)
		if len(fresh) > 0 {
			err := WithRetry(ctx, func() error {
				_, err := w.packets.Insert(ctx, fresh)
				return err
			}, writeRetries)
			if err != nil {
				return err
			}
			w.markWritten(view, fresh)
		}

		if p := view.Prediction; p != nil && w.requests[view.Callsign] != p.RequestID {
			err := WithRetry(ctx, func() error {
				return w.predictions.Save(ctx, view.Callsign, p)
			}, writeRetries)
			if err != nil {
				return fmt.Errorf("failed to write prediction: %w", err)
			}
			w.requests[view.Callsign] = p.RequestID
		}
		w.versions[view.Callsign] = view.Version
	}

	// Pruned and evicted tracks start over if they reappear
	for callsign := range w.versions {
		if !present[callsign] {
			delete(w.versions, callsign)
			delete(w.written, callsign)
			delete(w.requests, callsign)
		}
	}
	return nil
}

// unwritten returns the packets of view not yet written. Packets can arrive
// out of order, so a packet is identified by its time, not its position.
func (w *Writer) unwritten(view *tracking.TrackView) []telemetry.Packet {
	seen := w.written[view.Callsign]
	var fresh []telemetry.Packet
	for _, p := range view.Packets {
		if _, ok := seen[p.Time.UnixNano()]; !ok {
			fresh = append(fresh, p)
		}
	}
	return fresh
}

// markWritten records packets and forgets times that fell out of the track.
func (w *Writer) markWritten(view *tracking.TrackView, packets []telemetry.Packet) {
	seen := w.written[view.Callsign]
	if seen == nil {
		seen = make(map[int64]struct{}, len(packets))
		w.written[view.Callsign] = seen
	}
	for _, p := range packets {
		seen[p.Time.UnixNano()] = struct{}{}
	}
	if len(view.Packets) > 0 {
		oldest := view.Packets[0].Time.UnixNano()
		for t := range seen {
			if t < oldest {
				delete(seen, t)
			}
		}
	}
}
