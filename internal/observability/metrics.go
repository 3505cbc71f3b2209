package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the poll loop.
type Collector struct {
	gatherer prometheus.Gatherer

	PacketsTotal       *prometheus.CounterVec
	SourceErrors       *prometheus.CounterVec
	PredictionRequests *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	Tracks             prometheus.Gauge
	Packets            prometheus.Gauge
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balloonscope_packets_total",
		Help: "Packets drained from sources, labeled by source and outcome.",
	}, []string{"source", "outcome"}), "balloonscope_packets_total")
	if err != nil {
		return nil, err
	}

	sourceErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balloonscope_source_errors_total",
		Help: "Failed source drains, labeled by source and failure kind.",
	}, []string{"source", "kind"}), "balloonscope_source_errors_total")
	if err != nil {
		return nil, err
	}

	predictions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balloonscope_prediction_requests_total",
		Help: "Landing prediction requests, labeled by result.",
	}, []string{"result"}), "balloonscope_prediction_requests_total")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "balloonscope_tick_duration_seconds",
		Help:    "Duration of poll loop ticks in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "balloonscope_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	tracks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "balloonscope_tracks",
		Help: "Current number of tracked callsigns.",
	}), "balloonscope_tracks")
	if err != nil {
		return nil, err
	}

	packetGauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "balloonscope_track_packets",
		Help: "Current number of packets held across all tracks.",
	}), "balloonscope_track_packets")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		PacketsTotal:       packets,
		SourceErrors:       sourceErrors,
		PredictionRequests: predictions,
		TickDuration:       tickDuration,
		Tracks:             tracks,
		Packets:            packetGauge,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Packet counts one drained packet by outcome (inserted, duplicate,
// malformed, conflict, filtered).
func (c *Collector) Packet(source, outcome string) {
	if c == nil {
		return
	}
	c.PacketsTotal.WithLabelValues(source, outcome).Inc()
}

// SourceError counts a failed drain.
func (c *Collector) SourceError(source, kind string) {
	if c == nil {
		return
	}
	c.SourceErrors.WithLabelValues(source, kind).Inc()
}

// Prediction counts a completed prediction request by result.
func (c *Collector) Prediction(result string) {
	if c == nil {
		return
	}
	c.PredictionRequests.WithLabelValues(result).Inc()
}

// Tick records one loop iteration and the resulting registry size.
func (c *Collector) Tick(d time.Duration, tracks, packets int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	c.Tracks.Set(float64(tracks))
	c.Packets.Set(float64(packets))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
