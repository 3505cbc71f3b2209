// Package collector runs the poll loop: it drains every source once per
// tick, feeds the registry, schedules landing predictions and publishes
// snapshots for renderers and output writers.
package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/internal/observability"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// ErrNoSources is returned by New when no source is configured.
var ErrNoSources = errors.New("no telemetry sources configured")

// drainGrace is how long past the source timeout the loop waits for a
// drain to report before leaving it to the next tick.
const drainGrace = 250 * time.Millisecond

// Writer consumes published snapshots.
type Writer interface {
	Name() string
	Write(ctx context.Context, snapshot *tracking.Snapshot) error
}

// Config holds the loop timing.
type Config struct {
	// Interval between ticks
	Interval time.Duration

	// SourceTimeout bounds a single drain
	SourceTimeout time.Duration

	// PredictionTimeout bounds a single prediction request
	PredictionTimeout time.Duration

	// StatsInterval between statistics log lines (0 disables)
	StatsInterval time.Duration
}

// DefaultConfig returns the default loop timing.
func DefaultConfig() Config {
	return Config{
		Interval:          10 * time.Second,
		SourceTimeout:     8 * time.Second,
		PredictionTimeout: 30 * time.Second,
		StatsInterval:     5 * time.Minute,
	}
}

// Options are the collaborators of a Collector. Sources and Registry are
// required; a nil Coordinator or Client disables predictions.
type Options struct {
	Sources     []telemetry.Source
	Registry    *tracking.Registry
	Classifier  *tracking.Classifier
	Coordinator *tracking.Coordinator
	Client      tracking.PredictionClient
	Writers     []Writer
	Metrics     *observability.Collector
	Log         logging.Logger
	Events      EventSink
}

type drainResult struct {
	index   int
	packets []telemetry.Packet
	err     error
	elapsed time.Duration
}

type predictionResult struct {
	req     tracking.PredictionRequest
	samples []tracking.Sample
	err     error
}

// Collector is the poll loop. The registry is only touched from the
// goroutine running Run; everything else reads published snapshots.
type Collector struct {
	config      Config
	sources     []telemetry.Source
	registry    *tracking.Registry
	classifier  *tracking.Classifier
	coordinator *tracking.Coordinator
	client      tracking.PredictionClient
	writers     []Writer
	metrics     *observability.Collector
	log         logging.Logger
	events      EventSink
	now         func() time.Time

	// Loop-owned state
	busy     []bool
	drained  chan drainResult
	results  chan predictionResult
	inflight map[string]tracking.PredictionRequest
	tick     uint64

	force   chan struct{}
	filters chan []string
	latest  atomic.Pointer[tracking.Snapshot]
	updates chan *tracking.Snapshot
	outputs chan *tracking.Snapshot
}

// New creates a poll loop.
func New(config Config, opts Options) (*Collector, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("collector requires a registry")
	}

	d := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.SourceTimeout <= 0 {
		config.SourceTimeout = d.SourceTimeout
	}
	if config.PredictionTimeout <= 0 {
		config.PredictionTimeout = d.PredictionTimeout
	}
	if opts.Log == nil {
		opts.Log = logging.Noop()
	}
	if opts.Classifier == nil {
		opts.Classifier = tracking.NewClassifier(tracking.DefaultPhaseConfig(), tracking.DefaultProfile())
	}
	if opts.Coordinator == nil || opts.Client == nil {
		opts.Coordinator, opts.Client = nil, nil
	}

	return &Collector{
		config:      config,
		sources:     opts.Sources,
		registry:    opts.Registry,
		classifier:  opts.Classifier,
		coordinator: opts.Coordinator,
		client:      opts.Client,
		writers:     opts.Writers,
		metrics:     opts.Metrics,
		log:         opts.Log,
		events:      opts.Events,
		now:         time.Now,
		busy:        make([]bool, len(opts.Sources)),
		drained:     make(chan drainResult, len(opts.Sources)),
		results:     make(chan predictionResult, 16),
		inflight:    make(map[string]tracking.PredictionRequest),
		force:       make(chan struct{}, 1),
		filters:     make(chan []string, 1),
		updates:     make(chan *tracking.Snapshot, 1),
		outputs:     make(chan *tracking.Snapshot, 1),
	}, nil
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (c *Collector) Latest() *tracking.Snapshot { return c.latest.Load() }

// Updates delivers published snapshots. Only the newest unread snapshot
// is kept, so a slow reader skips intermediate ticks.
func (c *Collector) Updates() <-chan *tracking.Snapshot { return c.updates }

// Trigger requests an immediate tick.
func (c *Collector) Trigger() {
	select {
	case c.force <- struct{}{}:
	default:
	}
}

// SetCallsigns replaces the tracked callsigns; nil tracks every callsign.
// The next tick applies the change, evicting tracks it excludes, and is
// requested immediately.
func (c *Collector) SetCallsigns(callsigns []string) {
	callsigns = slices.Clone(callsigns)
	for {
		select {
		case c.filters <- callsigns:
			c.Trigger()
			return
		default:
		}
		select {
		case <-c.filters:
		default:
		}
	}
}

// Run ticks until ctx is cancelled. The tick in progress when ctx is
// cancelled completes and its snapshot is written before Run returns;
// outstanding prediction requests are abandoned.
func (c *Collector) Run(ctx context.Context) {
	predictCtx, cancelPredictions := context.WithCancel(ctx)
	defer cancelPredictions()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeOutputs(context.WithoutCancel(ctx))
	}()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	var stats <-chan time.Time
	if c.config.StatsInterval > 0 {
		statsTicker := time.NewTicker(c.config.StatsInterval)
		defer statsTicker.Stop()
		stats = statsTicker.C
	}

	c.log.Info(ctx, "poll loop started",
		logging.Int("sources", len(c.sources)),
		logging.Duration("interval", c.config.Interval))

	// First tick immediately
	c.Tick(predictCtx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			close(c.outputs)
			wg.Wait()
			c.log.Info(context.WithoutCancel(ctx), "poll loop stopped", logging.Int("ticks", int(c.tick)))
			return
		case <-ticker.C:
			c.Tick(predictCtx)
		case <-c.force:
			c.Tick(predictCtx)
			ticker.Reset(c.config.Interval)
		case <-stats:
			c.logStats(ctx)
		}
	}
}

// Tick runs one iteration: apply finished predictions, drain sources,
// ingest, prune, schedule predictions and publish a snapshot. ctx bounds
// the prediction requests started by this tick; drains always complete.
func (c *Collector) Tick(ctx context.Context) {
	start := c.now()

	// Panic recovery keeps the loop alive for the rest of the flight
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(ctx, "panic in tick", logging.Any("panic", r))
		}
	}()

	tickCtx := context.WithoutCancel(ctx)
	c.tick++

	c.applyFilter(tickCtx)
	c.applyPredictions(tickCtx)

	packets := c.drainSources(tickCtx)
	c.ingest(tickCtx, packets)

	now := c.now()
	c.prune(tickCtx, now)

	if c.coordinator != nil && ctx.Err() == nil {
		c.schedulePredictions(ctx, now)
	}

	snapshot := c.registry.Snapshot(now, c.classifier)
	snapshot.Tick = c.tick
	c.publish(snapshot)

	c.metrics.Tick(c.now().Sub(start), len(snapshot.Tracks), snapshot.PacketCount())
	c.log.Debug(tickCtx, "tick complete",
		logging.Int("tick", int(c.tick)),
		logging.Int("drained", len(packets)),
		logging.Int("tracks", len(snapshot.Tracks)),
		logging.Duration("elapsed", c.now().Sub(start)))
}

// drainSources drains every idle source concurrently and waits for them
// up to the source timeout. A source still draining at the deadline stays
// busy and is skipped until its result arrives on a later tick.
func (c *Collector) drainSources(ctx context.Context) []telemetry.Packet {
	for i, source := range c.sources {
		if c.busy[i] {
			c.log.Debug(ctx, "source still draining, skipped", logging.String("source", source.Name()))
			continue
		}
		c.busy[i] = true
		go c.drain(ctx, i, source)
	}

	deadline := time.NewTimer(c.config.SourceTimeout + drainGrace)
	defer deadline.Stop()

	var packets []telemetry.Packet
	for c.draining() {
		select {
		case r := <-c.drained:
			c.busy[r.index] = false
			packets = append(packets, c.collect(ctx, r)...)
		case <-deadline.C:
			for i, busy := range c.busy {
				if busy {
					c.log.Warn(ctx, "source exceeded timeout", logging.String("source", c.sources[i].Name()))
				}
			}
			return packets
		}
	}
	return packets
}

func (c *Collector) draining() bool {
	return slices.Contains(c.busy, true)
}

func (c *Collector) drain(ctx context.Context, index int, source telemetry.Source) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
	defer cancel()

	start := time.Now()
	packets, err := source.Drain(ctx)
	c.drained <- drainResult{index: index, packets: packets, err: err, elapsed: time.Since(start)}
}

// collect reports a drain result and returns its packets.
func (c *Collector) collect(ctx context.Context, r drainResult) []telemetry.Packet {
	name := c.sources[r.index].Name()
	if r.err == nil {
		if len(r.packets) > 0 {
			c.log.Debug(ctx, "source drained",
				logging.String("source", name),
				logging.Int("packets", len(r.packets)),
				logging.Duration("elapsed", r.elapsed))
		}
		return r.packets
	}

	kind := telemetry.ReadFailure
	var srcErr *telemetry.SourceError
	if errors.As(r.err, &srcErr) {
		kind = srcErr.Kind
	}

	// Lines that did not parse are rejected packets, not a source outage
	if kind == telemetry.MalformedInput {
		count := 1
		var bad *telemetry.MalformedLines
		if errors.As(r.err, &bad) {
			count = bad.Count
		}
		c.registry.RecordMalformed(count)
		for range count {
			c.metrics.Packet(name, "malformed")
		}
		c.log.Warn(ctx, "malformed input", logging.String("source", name), logging.Int("lines", count), logging.Err(r.err))
		c.emit(Event{Kind: EventRejected, Source: name, Err: r.err})
		return r.packets
	}

	c.metrics.SourceError(name, kind.String())

	// Polling faster than a service allows is expected with short intervals
	if kind == telemetry.TooFrequent {
		c.log.Debug(ctx, "source polled too frequently", logging.String("source", name))
		return r.packets
	}

	c.log.Warn(ctx, "source unavailable", logging.String("source", name), logging.Err(r.err))
	c.emit(Event{Kind: EventSourceError, Source: name, Err: r.err})
	return r.packets
}

// ingest feeds packets to the registry in time order.
func (c *Collector) ingest(ctx context.Context, packets []telemetry.Packet) {
	slices.SortStableFunc(packets, func(a, b telemetry.Packet) int {
		return a.ObservedAt().Compare(b.ObservedAt())
	})

	for _, p := range packets {
		outcome, err := c.registry.Ingest(p)
		switch {
		case err == nil:
			c.metrics.Packet(p.Source, outcome.String())
		case errors.Is(err, tracking.ErrFiltered):
			c.metrics.Packet(p.Source, "filtered")
		case errors.Is(err, tracking.ErrConflictingPacket):
			c.metrics.Packet(p.Source, "conflict")
			c.log.Warn(ctx, "conflicting packet ignored", logging.String("source", p.Source), logging.Err(err))
			c.emit(Event{Kind: EventRejected, Source: p.Source, Callsign: p.Callsign, Err: err})
		default:
			c.metrics.Packet(p.Source, "malformed")
			c.log.Warn(ctx, "packet rejected", logging.String("source", p.Source), logging.Err(err))
			c.emit(Event{Kind: EventRejected, Source: p.Source, Callsign: p.Callsign, Err: err})
		}
	}
}

// applyFilter installs a callsign filter queued by SetCallsigns.
func (c *Collector) applyFilter(ctx context.Context) {
	var callsigns []string
	select {
	case callsigns = <-c.filters:
	default:
		return
	}
	evicted := c.registry.SetCallsignFilter(callsigns)
	for _, callsign := range evicted {
		c.forget(callsign)
	}
	c.log.Info(ctx, "callsign filter changed",
		logging.Any("callsigns", callsigns),
		logging.Any("evicted", evicted))
}

// forget drops prediction state for a track that left the registry.
func (c *Collector) forget(callsign string) {
	if req, ok := c.inflight[callsign]; ok {
		c.coordinator.Discard(req)
		delete(c.inflight, callsign)
	}
	if c.coordinator != nil {
		c.coordinator.Forget(callsign)
	}
}

// prune applies the retention window and forgets prediction state for
// tracks it removed.
func (c *Collector) prune(ctx context.Context, now time.Time) {
	before := c.registry.Tracks()
	removed := c.registry.Prune(now)
	if removed == 0 {
		return
	}
	for _, t := range before {
		if _, ok := c.registry.Track(t.Callsign()); ok {
			continue
		}
		c.forget(t.Callsign())
	}
	c.log.Info(ctx, "pruned packets outside retention window", logging.Int("packets", removed))
}

// publish stores snapshot as the latest and hands it to the update and
// output channels, replacing any unread snapshot.
func (c *Collector) publish(snapshot *tracking.Snapshot) {
	c.latest.Store(snapshot)
	offer(c.updates, snapshot)
	if len(c.writers) > 0 {
		offer(c.outputs, snapshot)
	}
}

func offer(ch chan *tracking.Snapshot, snapshot *tracking.Snapshot) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// writeOutputs writes snapshots until the output channel is closed.
func (c *Collector) writeOutputs(ctx context.Context) {
	for snapshot := range c.outputs {
		for _, w := range c.writers {
			if err := w.Write(ctx, snapshot); err != nil {
				c.log.Error(ctx, "failed to write snapshot", logging.String("output", w.Name()), logging.Err(err))
				c.emit(Event{Kind: EventOutputError, Source: w.Name(), Err: err})
			}
		}
	}
}

// shutdown abandons outstanding prediction requests.
func (c *Collector) shutdown(ctx context.Context) {
	for callsign, req := range c.inflight {
		c.coordinator.Discard(req)
		delete(c.inflight, callsign)
	}
	c.log.Info(context.WithoutCancel(ctx), "poll loop stopping", logging.Int("tick", int(c.tick)))
}

func (c *Collector) logStats(ctx context.Context) {
	s := c.registry.Stats()
	c.log.Info(ctx, "registry stats",
		logging.Int("tracks", c.registry.Len()),
		logging.Int("inserted", s.Inserted),
		logging.Int("duplicates", s.Duplicates),
		logging.Int("lagged_duplicates", s.LaggedDuplicates),
		logging.Int("malformed", s.Malformed),
		logging.Int("conflicts", s.Conflicts),
		logging.Int("filtered", s.Filtered),
		logging.Int("pruned", s.Pruned))
}

func (c *Collector) emit(e Event) {
	if c.events == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.events(e)
}
