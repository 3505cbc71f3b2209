// Package tracking is the telemetry track engine.
//
// A Registry owns one Track per callsign. Packets from any source, in any
// order, are inserted into their Track by binary search; duplicates are
// dropped and only the kinematics adjacent to an insertion are recomputed.
// The Classifier derives the flight phase from a Track's history, and the
// Coordinator decides when to ask an external service for a landing
// prediction and attaches the answer to the Track.
//
// Nothing in this package performs I/O or is safe for concurrent mutation:
// all writes happen on the poll loop, and readers use Snapshots.
package tracking

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// CoordinateTolerance is how close, in degrees on each axis, two positions
// must be to count as the same position (four decimal places).
const CoordinateTolerance = 1e-4

// altitudeTolerance is how close two altitudes must be, in meters, for a
// time-lagged re-report to count as a duplicate.
const altitudeTolerance = 1e-4

// ErrConflictingPacket is returned when a packet reports a different
// position for an instant the track already holds. The first report wins.
var ErrConflictingPacket = errors.New("conflicting packet")

// InsertOutcome reports what happened to an accepted packet.
type InsertOutcome int

const (
	// Inserted means the packet was added to its track
	Inserted InsertOutcome = iota

	// DuplicateIgnored means an equal packet was already present
	DuplicateIgnored
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case DuplicateIgnored:
		return "duplicate"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

// duplicateKind distinguishes exact duplicates from time-lagged re-reports.
type duplicateKind int

const (
	notDuplicate duplicateKind = iota
	exactDuplicate
	laggedDuplicate
)

// Track is the time-ordered packet history of one callsign.
//
// packets is strictly increasing by Time. metrics[i] holds the kinematics
// between packets[i] and packets[i+1], so len(metrics) == len(packets)-1
// whenever the track is non-empty.
type Track struct {
	callsign   string
	packets    []telemetry.Packet
	metrics    []Metrics
	prediction *PredictedTrajectory
	version    uint64
}

func newTrack(callsign string) *Track {
	return &Track{callsign: callsign}
}

// Callsign returns the callsign the track belongs to.
func (t *Track) Callsign() string { return t.callsign }

// Len returns the number of packets.
func (t *Track) Len() int { return len(t.packets) }

// Version increases every time the track changes.
func (t *Track) Version() uint64 { return t.version }

// Packet returns the i-th packet in time order.
func (t *Track) Packet(i int) telemetry.Packet { return t.packets[i] }

// Packets returns a copy of the packets in time order.
func (t *Track) Packets() []telemetry.Packet { return slices.Clone(t.packets) }

// Metrics returns a copy of the pairwise kinematics; entry i describes
// packets i and i+1.
func (t *Track) Metrics() []Metrics { return slices.Clone(t.metrics) }

// Last returns the most recent packet.
func (t *Track) Last() (telemetry.Packet, bool) {
	if len(t.packets) == 0 {
		return telemetry.Packet{}, false
	}
	return t.packets[len(t.packets)-1], true
}

// LastWithAltitude returns the most recent packet that carried an altitude.
func (t *Track) LastWithAltitude() (telemetry.Packet, bool) {
	for i := len(t.packets) - 1; i >= 0; i-- {
		if t.packets[i].Altitude.Valid {
			return t.packets[i], true
		}
	}
	return telemetry.Packet{}, false
}

// Prediction returns the attached landing prediction, or nil.
func (t *Track) Prediction() *PredictedTrajectory { return t.prediction }

// search returns the index of the first packet not earlier than ts.
func (t *Track) search(ts time.Time) (int, bool) {
	return slices.BinarySearchFunc(t.packets, ts, func(p telemetry.Packet, target time.Time) int {
		return p.Time.Compare(target)
	})
}

// insert places p in time order. p.Time must already be set.
func (t *Track) insert(p telemetry.Packet, lagWindow time.Duration) (InsertOutcome, duplicateKind, error) {
	idx, _ := t.search(p.Time)

	// Neighbours are the only candidates for equality: rounding to a
	// resolution of a second or so cannot reach past them.
	for _, j := range []int{idx - 1, idx} {
		if j < 0 || j >= len(t.packets) {
			continue
		}
		existing := t.packets[j]
		if sameInstant(existing, p) {
			if existing.Position.ApproxEqual(p.Position, CoordinateTolerance) {
				return DuplicateIgnored, exactDuplicate, nil
			}
			return DuplicateIgnored, notDuplicate, fmt.Errorf("%w: %s at %s reported at %s and %s",
				ErrConflictingPacket, p.Callsign, p.Time.UTC().Format(time.RFC3339), existing.Position, p.Position)
		}
	}

	if lagWindow > 0 {
		for _, j := range []int{idx - 1, idx} {
			if j < 0 || j >= len(t.packets) {
				continue
			}
			if isLaggedRepeat(t.packets[j], p, lagWindow) {
				return DuplicateIgnored, laggedDuplicate, nil
			}
		}
	}

	t.packets = slices.Insert(t.packets, idx, p)
	t.refreshMetrics(idx)
	t.version++
	return Inserted, notDuplicate, nil
}

// refreshMetrics recomputes only the pairs touching the packet inserted at k.
func (t *Track) refreshMetrics(k int) {
	n := len(t.packets)
	switch {
	case n == 1:
		t.metrics = t.metrics[:0]
	case k == 0:
		t.metrics = slices.Insert(t.metrics, 0, computeMetrics(t.packets[0], t.packets[1]))
	case k == n-1:
		t.metrics = append(t.metrics, computeMetrics(t.packets[k-1], t.packets[k]))
	default:
		t.metrics[k-1] = computeMetrics(t.packets[k-1], t.packets[k])
		t.metrics = slices.Insert(t.metrics, k, computeMetrics(t.packets[k], t.packets[k+1]))
	}
}

// pruneBefore drops packets earlier than cutoff and returns how many were
// removed. The remaining pairs keep their metrics.
func (t *Track) pruneBefore(cutoff time.Time) int {
	idx, _ := t.search(cutoff)
	if idx == 0 {
		return 0
	}
	t.packets = slices.Clone(t.packets[idx:])
	if idx >= len(t.metrics)+1 {
		t.metrics = nil
	} else {
		t.metrics = slices.Clone(t.metrics[idx:])
	}
	t.version++
	return idx
}

func (t *Track) setPrediction(p *PredictedTrajectory) {
	t.prediction = p
	t.version++
}

// sameInstant compares timestamps rounded to the coarser of the two packets'
// time resolutions.
func sameInstant(a, b telemetry.Packet) bool {
	resolution := max(a.TimeResolution(), b.TimeResolution())
	return a.Time.Round(resolution).Equal(b.Time.Round(resolution))
}

// isLaggedRepeat reports whether b re-reports a's exact fix at a later or
// earlier time within window, as relays and aggregators sometimes do.
func isLaggedRepeat(a, b telemetry.Packet, window time.Duration) bool {
	dt := b.Time.Sub(a.Time)
	if dt < 0 {
		dt = -dt
	}
	if dt > window || !a.Position.ApproxEqual(b.Position, CoordinateTolerance) {
		return false
	}
	if a.Altitude.Valid != b.Altitude.Valid {
		return false
	}
	return !a.Altitude.Valid || math.Abs(a.Altitude.Meters-b.Altitude.Meters) < altitudeTolerance
}

// compareCallsign orders tracks for stable listings.
func compareCallsign(a, b *Track) int {
	return cmp.Compare(a.callsign, b.callsign)
}
