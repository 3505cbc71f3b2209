package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

var (
	// ErrPredictionRequestFailed reports a prediction request that produced
	// no usable trajectory. The previous trajectory is kept.
	ErrPredictionRequestFailed = errors.New("prediction request failed")

	// ErrPredictionResponseMalformed reports a response that could not be
	// used. It also matches ErrPredictionRequestFailed.
	ErrPredictionResponseMalformed = fmt.Errorf("%w: malformed response", ErrPredictionRequestFailed)
)

// Sample is one point of a flight path: where the balloon is (or is
// predicted to be) at a given time.
type Sample struct {
	Time     time.Time
	Position telemetry.Coordinate

	// Altitude in meters above mean sea level
	Altitude float64
}

// PredictedTrajectory is a landing prediction attached to a track. It is
// replaced wholesale by newer predictions and never modified in place.
type PredictedTrajectory struct {
	// RequestID identifies the request that produced this trajectory
	RequestID string

	// Requested is when the request was issued
	Requested time.Time

	// Start is the launch point the prediction was computed from
	Start Sample

	// Profile is the effective profile sent with the request
	Profile Profile

	// DescentOnly is set when only the remaining descent was predicted
	DescentOnly bool

	// Samples is the predicted path in time order
	Samples []Sample
}

// Landing returns the final predicted sample.
func (p *PredictedTrajectory) Landing() (Sample, bool) {
	if p == nil || len(p.Samples) == 0 {
		return Sample{}, false
	}
	return p.Samples[len(p.Samples)-1], true
}

// Burst returns the highest predicted sample.
func (p *PredictedTrajectory) Burst() (Sample, bool) {
	if p == nil || len(p.Samples) == 0 {
		return Sample{}, false
	}
	highest := p.Samples[0]
	for _, s := range p.Samples[1:] {
		if s.Altitude > highest.Altitude {
			highest = s
		}
	}
	return highest, true
}

// PredictionRequest is everything a prediction service needs.
type PredictionRequest struct {
	// ID is unique per request
	ID string

	// Callsign is the track the request belongs to
	Callsign string

	// Start is the point to predict from
	Start Sample

	// Profile is the effective profile from the classifier
	Profile Profile

	// DescentOnly asks for the remaining descent only
	DescentOnly bool

	// Phase is the phase the track was in when the request was built
	Phase Phase

	// Requested is when the request was built
	Requested time.Time
}

// PredictionClient asks an external service for a flight path.
type PredictionClient interface {
	Predict(ctx context.Context, req PredictionRequest) ([]Sample, error)
}

// validateTrajectory rejects empty, unordered or out-of-range paths.
func validateTrajectory(samples []Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: empty trajectory", ErrPredictionResponseMalformed)
	}
	for i, s := range samples {
		if !s.Position.Valid() {
			return fmt.Errorf("%w: sample %d has invalid position %s", ErrPredictionResponseMalformed, i, s.Position)
		}
		if math.IsNaN(s.Altitude) || math.IsInf(s.Altitude, 0) {
			return fmt.Errorf("%w: sample %d has invalid altitude", ErrPredictionResponseMalformed, i)
		}
		if s.Time.IsZero() {
			return fmt.Errorf("%w: sample %d has no time", ErrPredictionResponseMalformed, i)
		}
		if i > 0 && s.Time.Before(samples[i-1].Time) {
			return fmt.Errorf("%w: sample %d is out of order", ErrPredictionResponseMalformed, i)
		}
	}
	return nil
}
