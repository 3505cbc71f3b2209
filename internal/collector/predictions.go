package collector

import (
	"context"
	"errors"
	"time"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// schedulePredictions asks the coordinator about every track and starts
// the requests it decides on. Requests run in their own goroutines; their
// results are applied at the start of a later tick.
func (c *Collector) schedulePredictions(ctx context.Context, now time.Time) {
	for _, t := range c.registry.Tracks() {
		req, ok := c.coordinator.MaybeRequest(t, now)
		if !ok {
			continue
		}
		c.inflight[req.Callsign] = req
		c.log.Info(ctx, "requesting prediction",
			logging.String("callsign", req.Callsign),
			logging.String("phase", req.Phase.String()),
			logging.Float("altitude", req.Start.Altitude),
			logging.String("request_id", req.ID))
		go c.predict(ctx, req)
	}
}

func (c *Collector) predict(ctx context.Context, req tracking.PredictionRequest) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.PredictionTimeout)
	defer cancel()

	samples, err := c.client.Predict(reqCtx, req)
	select {
	case c.results <- predictionResult{req: req, samples: samples, err: err}:
	case <-ctx.Done():
		// Shutting down; nobody will apply this result
	}
}

// applyPredictions attaches every finished prediction without waiting.
func (c *Collector) applyPredictions(ctx context.Context) {
	for {
		select {
		case r := <-c.results:
			c.applyPrediction(ctx, r)
		default:
			return
		}
	}
}

func (c *Collector) applyPrediction(ctx context.Context, r predictionResult) {
	if current, ok := c.inflight[r.req.Callsign]; ok && current.ID == r.req.ID {
		delete(c.inflight, r.req.Callsign)
	}

	t, ok := c.registry.Track(r.req.Callsign)
	if !ok {
		c.coordinator.Discard(r.req)
		return
	}

	if err := c.coordinator.Apply(t, r.req, r.samples, r.err); err != nil {
		result := "failed"
		if errors.Is(err, tracking.ErrPredictionResponseMalformed) {
			result = "malformed"
		}
		c.metrics.Prediction(result)
		c.log.Warn(ctx, "prediction failed", logging.String("callsign", r.req.Callsign), logging.Err(err))
		c.emit(Event{Kind: EventPredictionFailed, Callsign: r.req.Callsign, Err: err})
		return
	}

	c.metrics.Prediction("ok")
	fields := []logging.Field{
		logging.String("callsign", r.req.Callsign),
		logging.String("request_id", r.req.ID),
	}
	if p := t.Prediction(); p != nil {
		if landing, ok := p.Landing(); ok {
			fields = append(fields,
				logging.Float("landing_lat", landing.Position.Latitude),
				logging.Float("landing_lon", landing.Position.Longitude),
				logging.String("landing_time", landing.Time.UTC().Format("15:04:05")))
		}
	}
	c.log.Info(ctx, "prediction attached", fields...)
	c.emit(Event{Kind: EventPrediction, Callsign: r.req.Callsign})
}
