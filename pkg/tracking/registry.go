package tracking

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// ErrFiltered is returned for packets excluded by the callsign or time filter.
var ErrFiltered = errors.New("packet filtered")

// RegistryConfig holds the ingest filters and retention policy.
type RegistryConfig struct {
	// Callsigns restricts tracking to these callsigns; empty accepts all
	Callsigns []string

	// Start and End bound accepted packet times; zero values are open
	Start time.Time
	End   time.Time

	// Retention drops packets older than now-Retention on Prune; 0 keeps all
	Retention time.Duration

	// TimeLagWindow treats a packet repeating a neighbour's exact position
	// and altitude within this window as a duplicate; 0 disables the check
	TimeLagWindow time.Duration
}

// RegistryStats counts what happened to ingested packets.
type RegistryStats struct {
	Inserted         int
	Duplicates       int
	LaggedDuplicates int
	Malformed        int
	Conflicts        int
	Filtered         int
	Pruned           int
}

// Registry owns the tracks of every callsign. It has a single writer.
type Registry struct {
	config RegistryConfig
	filter map[string]bool
	tracks map[string]*Track
	stats  RegistryStats

	// views caches snapshot copies of tracks by version
	views map[string]*TrackView
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config: config,
		tracks: make(map[string]*Track),
		views:  make(map[string]*TrackView),
	}
	r.filter = callsignFilter(config.Callsigns)
	return r
}

func callsignFilter(callsigns []string) map[string]bool {
	if len(callsigns) == 0 {
		return nil
	}
	filter := make(map[string]bool, len(callsigns))
	for _, c := range callsigns {
		filter[telemetry.NormalizeCallsign(c)] = true
	}
	return filter
}

// Ingest routes a packet to its track, creating the track on first sight.
//
// A packet without a timestamp takes its receipt time. Malformed packets
// return an error wrapping telemetry.ErrMalformedPacket, filtered packets
// ErrFiltered, and packets contradicting an existing one at the same instant
// ErrConflictingPacket. Whenever an error is returned nothing was inserted.
func (r *Registry) Ingest(p telemetry.Packet) (InsertOutcome, error) {
	p.Callsign = telemetry.NormalizeCallsign(p.Callsign)
	if p.Time.IsZero() {
		p.Time = p.Received
	}
	if err := p.Validate(); err != nil {
		r.stats.Malformed++
		return DuplicateIgnored, err
	}

	if r.filter != nil && !r.filter[p.Callsign] {
		r.stats.Filtered++
		return DuplicateIgnored, fmt.Errorf("%w: callsign %s not tracked", ErrFiltered, p.Callsign)
	}
	if !r.config.Start.IsZero() && p.Time.Before(r.config.Start) {
		r.stats.Filtered++
		return DuplicateIgnored, fmt.Errorf("%w: %s before start time", ErrFiltered, p.Callsign)
	}
	if !r.config.End.IsZero() && p.Time.After(r.config.End) {
		r.stats.Filtered++
		return DuplicateIgnored, fmt.Errorf("%w: %s after end time", ErrFiltered, p.Callsign)
	}

	track, ok := r.tracks[p.Callsign]
	if !ok {
		track = newTrack(p.Callsign)
	}

	outcome, kind, err := track.insert(p, r.config.TimeLagWindow)
	switch {
	case err != nil:
		r.stats.Conflicts++
		return outcome, err
	case kind == exactDuplicate:
		r.stats.Duplicates++
	case kind == laggedDuplicate:
		r.stats.LaggedDuplicates++
	default:
		r.stats.Inserted++
	}
	if !ok && outcome == Inserted {
		r.tracks[p.Callsign] = track
	}
	return outcome, nil
}

// Track returns the track for a callsign.
func (r *Registry) Track(callsign string) (*Track, bool) {
	t, ok := r.tracks[telemetry.NormalizeCallsign(callsign)]
	return t, ok
}

// Tracks returns all tracks ordered by callsign.
func (r *Registry) Tracks() []*Track {
	tracks := make([]*Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		tracks = append(tracks, t)
	}
	slices.SortFunc(tracks, compareCallsign)
	return tracks
}

// Len returns the number of tracks.
func (r *Registry) Len() int { return len(r.tracks) }

// RecordMalformed counts n input lines a source could not parse into packets.
func (r *Registry) RecordMalformed(n int) {
	if n > 0 {
		r.stats.Malformed += n
	}
}

// Stats returns the ingest counters.
func (r *Registry) Stats() RegistryStats { return r.stats }

// SetCallsignFilter replaces the callsign filter and evicts tracks it
// excludes, returning their callsigns.
func (r *Registry) SetCallsignFilter(callsigns []string) []string {
	r.config.Callsigns = slices.Clone(callsigns)
	r.filter = callsignFilter(callsigns)
	if r.filter == nil {
		return nil
	}
	var evicted []string
	for callsign := range r.tracks {
		if !r.filter[callsign] {
			evicted = append(evicted, callsign)
			delete(r.tracks, callsign)
			delete(r.views, callsign)
		}
	}
	slices.Sort(evicted)
	return evicted
}

// Prune applies the retention window and drops tracks left empty. It
// returns the number of packets removed.
func (r *Registry) Prune(now time.Time) int {
	if r.config.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-r.config.Retention)
	removed := 0
	for callsign, t := range r.tracks {
		removed += t.pruneBefore(cutoff)
		if t.Len() == 0 {
			delete(r.tracks, callsign)
			delete(r.views, callsign)
		}
	}
	r.stats.Pruned += removed
	return removed
}

// Snapshot returns an immutable copy of every track, classified with
// classifier (which may be nil). Tracks unchanged since the previous
// snapshot reuse their previous copy.
func (r *Registry) Snapshot(now time.Time, classifier *Classifier) *Snapshot {
	snapshot := &Snapshot{
		Time:   now,
		Tracks: make([]*TrackView, 0, len(r.tracks)),
		Stats:  r.stats,
	}
	for _, t := range r.Tracks() {
		view, ok := r.views[t.callsign]
		if !ok || view.Version != t.version {
			view = newTrackView(t, classifier)
			r.views[t.callsign] = view
		}
		snapshot.Tracks = append(snapshot.Tracks, view)
	}
	return snapshot
}
