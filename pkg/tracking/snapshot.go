package tracking

import (
	"slices"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// TrackView is an immutable copy of a track taken for rendering and output.
// Nothing in a view is ever modified after the view is published.
type TrackView struct {
	Callsign string
	Version  uint64

	// Packets in time order
	Packets []telemetry.Packet

	// Metrics[i] describes Packets[i] and Packets[i+1]
	Metrics []Metrics

	// Classification at the time of the snapshot
	Classification Classification

	// Prediction is the attached landing prediction, or nil
	Prediction *PredictedTrajectory

	// Summary aggregates the history
	Summary Summary
}

func newTrackView(t *Track, classifier *Classifier) *TrackView {
	view := &TrackView{
		Callsign:   t.callsign,
		Version:    t.version,
		Packets:    slices.Clone(t.packets),
		Metrics:    slices.Clone(t.metrics),
		Prediction: t.prediction,
	}
	if classifier != nil {
		view.Classification = classifier.ClassifyHistory(view.Packets, view.Metrics)
	}
	view.Summary = Summarize(view.Packets, view.Metrics, view.Prediction)
	return view
}

// Last returns the latest packet.
func (v *TrackView) Last() (telemetry.Packet, bool) {
	if len(v.Packets) == 0 {
		return telemetry.Packet{}, false
	}
	return v.Packets[len(v.Packets)-1], true
}

// MetricsBefore returns the kinematics between packet i-1 and packet i.
func (v *TrackView) MetricsBefore(i int) (Metrics, bool) {
	if i <= 0 || i > len(v.Metrics) {
		return Metrics{}, false
	}
	return v.Metrics[i-1], true
}

// Phase is shorthand for Classification.Phase.
func (v *TrackView) Phase() Phase { return v.Classification.Phase }

// Snapshot is a consistent, read-only picture of all tracks at one tick.
type Snapshot struct {
	// Tick counts poll loop iterations
	Tick uint64

	// Time is when the snapshot was taken
	Time time.Time

	// Tracks ordered by callsign
	Tracks []*TrackView

	// Stats are the registry counters at snapshot time
	Stats RegistryStats
}

// Track returns the view for a callsign.
func (s *Snapshot) Track(callsign string) (*TrackView, bool) {
	callsign = telemetry.NormalizeCallsign(callsign)
	i, found := slices.BinarySearchFunc(s.Tracks, callsign, func(v *TrackView, c string) int {
		switch {
		case v.Callsign < c:
			return -1
		case v.Callsign > c:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return nil, false
	}
	return s.Tracks[i], true
}

// PacketCount returns the total number of packets across tracks.
func (s *Snapshot) PacketCount() int {
	n := 0
	for _, t := range s.Tracks {
		n += len(t.Packets)
	}
	return n
}
