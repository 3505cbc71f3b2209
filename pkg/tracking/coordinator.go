package tracking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/balloonscope/pkg/coordinates"
)

// CoordinatorConfig bounds how often predictions are requested.
type CoordinatorConfig struct {
	// MinInterval is the minimum time between two requests for one callsign (default 1 minute)
	MinInterval time.Duration

	// DivergenceDistance is how far, in meters, the track must move from the
	// previous request's start before a re-request is warranted (default 500)
	DivergenceDistance float64

	// DefaultStart is used for tracks without any altitude yet. A zero Time
	// means "now". nil disables predictions for such tracks.
	DefaultStart *Sample
}

// DefaultCoordinatorConfig returns the default request policy.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MinInterval:        time.Minute,
		DivergenceDistance: 500,
	}
}

// predictionState is the per-callsign request bookkeeping.
type predictionState struct {
	requestID   string
	lastRequest time.Time
	phase       Phase
	start       Sample
	outstanding bool
	succeeded   bool
	failures    int
	lastErr     error
}

// PredictionStatus summarises the request state of one callsign.
type PredictionStatus struct {
	Outstanding bool
	LastRequest time.Time
	Failures    int
	LastError   error
}

// Coordinator decides when a track needs a new landing prediction, builds
// the request, and attaches responses to the track.
//
// At most one request per callsign is outstanding. After a successful
// prediction, a new one is requested only once MinInterval has passed and
// either the phase changed or the track moved more than DivergenceDistance
// from the previous start. After a failure, the request is retried once
// MinInterval has passed.
type Coordinator struct {
	config     CoordinatorConfig
	classifier *Classifier
	newID      func() string
	state      map[string]*predictionState
}

// NewCoordinator creates a coordinator that classifies tracks with classifier.
func NewCoordinator(config CoordinatorConfig, classifier *Classifier) *Coordinator {
	d := DefaultCoordinatorConfig()
	if config.MinInterval <= 0 {
		config.MinInterval = d.MinInterval
	}
	if config.DivergenceDistance <= 0 {
		config.DivergenceDistance = d.DivergenceDistance
	}
	return &Coordinator{
		config:     config,
		classifier: classifier,
		newID:      uuid.NewString,
		state:      make(map[string]*predictionState),
	}
}

// MaybeRequest returns a prediction request for t if one is warranted now.
func (c *Coordinator) MaybeRequest(t *Track, now time.Time) (PredictionRequest, bool) {
	classification := c.classifier.Classify(t)
	if classification.Phase == PhaseLanded {
		return PredictionRequest{}, false
	}

	start, ok := c.startFor(t, now)
	if !ok {
		return PredictionRequest{}, false
	}

	st := c.state[t.callsign]
	if st != nil {
		if st.outstanding {
			return PredictionRequest{}, false
		}
		if now.Sub(st.lastRequest) < c.config.MinInterval {
			return PredictionRequest{}, false
		}
		if st.succeeded && classification.Phase == st.phase && !c.diverged(st.start, start) {
			return PredictionRequest{}, false
		}
	} else {
		st = &predictionState{}
		c.state[t.callsign] = st
	}

	req := PredictionRequest{
		ID:          c.newID(),
		Callsign:    t.callsign,
		Start:       start,
		Profile:     classification.Profile,
		DescentOnly: classification.DescentOnly,
		Phase:       classification.Phase,
		Requested:   now,
	}

	st.requestID = req.ID
	st.lastRequest = now
	st.phase = classification.Phase
	st.start = start
	st.outstanding = true
	return req, true
}

// Apply attaches the response to req to t. On a request error or a
// malformed response the existing prediction is left in place and the
// failure is returned; it matches ErrPredictionRequestFailed.
func (c *Coordinator) Apply(t *Track, req PredictionRequest, samples []Sample, err error) error {
	st := c.state[req.Callsign]
	if st == nil || st.requestID != req.ID || !st.outstanding {
		return fmt.Errorf("%w: %s: response to unknown request %s", ErrPredictionRequestFailed, req.Callsign, req.ID)
	}
	st.outstanding = false

	if err == nil {
		err = validateTrajectory(samples)
	} else {
		err = fmt.Errorf("%w: %s: %w", ErrPredictionRequestFailed, req.Callsign, err)
	}
	if err != nil {
		st.failures++
		st.lastErr = err
		st.succeeded = false
		return err
	}

	path := make([]Sample, len(samples))
	copy(path, samples)
	t.setPrediction(&PredictedTrajectory{
		RequestID:   req.ID,
		Requested:   req.Requested,
		Start:       req.Start,
		Profile:     req.Profile.clone(),
		DescentOnly: req.DescentOnly,
		Samples:     path,
	})
	st.failures = 0
	st.lastErr = nil
	st.succeeded = true
	return nil
}

// Discard forgets an in-flight request whose response will never be applied.
func (c *Coordinator) Discard(req PredictionRequest) {
	if st := c.state[req.Callsign]; st != nil && st.requestID == req.ID {
		st.outstanding = false
		st.requestID = ""
	}
}

// Forget drops all state for a callsign, e.g. when its track is evicted.
func (c *Coordinator) Forget(callsign string) {
	delete(c.state, callsign)
}

// Status returns the request state for a callsign.
func (c *Coordinator) Status(callsign string) PredictionStatus {
	st := c.state[callsign]
	if st == nil {
		return PredictionStatus{}
	}
	return PredictionStatus{
		Outstanding: st.outstanding,
		LastRequest: st.lastRequest,
		Failures:    st.failures,
		LastError:   st.lastErr,
	}
}

// startFor builds the launch point for a request: the latest packet, using
// the most recent known altitude, or the configured default start when the
// track has no altitude at all.
func (c *Coordinator) startFor(t *Track, now time.Time) (Sample, bool) {
	last, ok := t.Last()
	if !ok {
		return Sample{}, false
	}
	if withAltitude, ok := t.LastWithAltitude(); ok {
		return Sample{
			Time:     last.Time,
			Position: last.Position,
			Altitude: withAltitude.Altitude.Meters,
		}, true
	}
	if c.config.DefaultStart == nil {
		return Sample{}, false
	}
	start := *c.config.DefaultStart
	if start.Time.IsZero() {
		start.Time = now
	}
	return start, true
}

func (c *Coordinator) diverged(previous, current Sample) bool {
	return coordinates.DistanceMeters(geographic(previous.Position), geographic(current.Position)) > c.config.DivergenceDistance
}
