package tracking

import (
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// Phase is the flight phase of a balloon.
type Phase int

const (
	// PhaseUnknown means there is not enough altitude history yet
	PhaseUnknown Phase = iota

	// PhaseAscending means the balloon is climbing
	PhaseAscending

	// PhaseFloating means the balloon holds its float or burst altitude
	PhaseFloating

	// PhaseDescending means the balloon is coming down
	PhaseDescending

	// PhaseLanded means the payload is on the ground. Terminal.
	PhaseLanded
)

func (p Phase) String() string {
	switch p {
	case PhaseAscending:
		return "ascending"
	case PhaseFloating:
		return "floating"
	case PhaseDescending:
		return "descending"
	case PhaseLanded:
		return "landed"
	default:
		return "unknown"
	}
}

// PhaseConfig holds the classifier thresholds.
type PhaseConfig struct {
	// WindowSamples is how many trailing vertical-rate samples vote (default 5)
	WindowSamples int

	// VerticalRateEpsilon separates climbing/sinking from level flight, m/s (default 0.5)
	VerticalRateEpsilon float64

	// FloatDuration is how long level flight must last near the float
	// altitude before the phase becomes Floating (default 10 minutes)
	FloatDuration time.Duration

	// GroundAltitude is the height in meters above the ground reference at
	// or below which the payload counts as near the ground (default 50)
	GroundAltitude float64

	// GroundElevation is the terrain elevation in meters above sea level of
	// the expected landing area. When 0, a history that starts at rest takes
	// the altitude of its launch fix instead, and sea level otherwise.
	GroundElevation float64

	// LandedSamples is how many consecutive near-ground samples mark a landing (default 3)
	LandedSamples int
}

// DefaultPhaseConfig returns the default thresholds.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		WindowSamples:       5,
		VerticalRateEpsilon: 0.5,
		FloatDuration:       10 * time.Minute,
		GroundAltitude:      50,
		LandedSamples:       3,
	}
}

func (c PhaseConfig) withDefaults() PhaseConfig {
	d := DefaultPhaseConfig()
	if c.WindowSamples <= 0 {
		c.WindowSamples = d.WindowSamples
	}
	if c.VerticalRateEpsilon <= 0 {
		c.VerticalRateEpsilon = d.VerticalRateEpsilon
	}
	if c.FloatDuration <= 0 {
		c.FloatDuration = d.FloatDuration
	}
	if c.LandedSamples <= 0 {
		c.LandedSamples = d.LandedSamples
	}
	return c
}

// Classification is the classifier's verdict on a track.
type Classification struct {
	// Phase is the current flight phase
	Phase Phase

	// Profile is the effective profile to use for the next prediction
	Profile Profile

	// DescentOnly is set once descent has been observed; only the remaining
	// descent should be predicted
	DescentOnly bool

	// ObservedAscentRate is the mean climbing rate in the trailing window, m/s
	ObservedAscentRate float64

	// ObservedDescentRate is the mean sinking rate in the trailing window, m/s (negative)
	ObservedDescentRate float64

	// Samples is the number of vertical-rate samples in the history
	Samples int
}

// Classifier derives flight phase from track history. It holds only
// configuration, so the same history always yields the same Classification.
type Classifier struct {
	config  PhaseConfig
	profile Profile
}

// NewClassifier creates a classifier for the configured profile.
func NewClassifier(config PhaseConfig, profile Profile) *Classifier {
	return &Classifier{config: config.withDefaults(), profile: profile.clone()}
}

// Config returns the thresholds in use.
func (c *Classifier) Config() PhaseConfig { return c.config }

// Profile returns the configured (not effective) profile.
func (c *Classifier) Profile() Profile { return c.profile.clone() }

// Classify classifies a live track.
func (c *Classifier) Classify(t *Track) Classification {
	return c.ClassifyHistory(t.packets, t.metrics)
}

type vote int

const (
	voteLevel vote = iota
	voteUp
	voteDown
	voteNone
)

type rateSample struct {
	rate     float64
	altitude float64
	interval time.Duration
}

// ClassifyHistory runs the phase state machine over a time-ordered packet
// history and its pairwise metrics.
//
// Each vertical-rate sample votes up, down or level against the epsilon. The
// phase follows the majority of the trailing window, and a tie keeps the
// previous phase, so a single noisy sample cannot flip it. Landed is
// terminal once reached.
func (c *Classifier) ClassifyHistory(packets []telemetry.Packet, metrics []Metrics) Classification {
	cfg := c.config

	samples := make([]rateSample, 0, len(metrics))
	for i, m := range metrics {
		if !m.HasAltitude {
			continue
		}
		samples = append(samples, rateSample{
			rate:     m.AscentRate,
			altitude: packets[i+1].Altitude.Meters,
			interval: m.Interval,
		})
	}

	state := PhaseUnknown
	descended := false
	var groundDown, groundLevel int
	var level time.Duration
	floatAltitude, floatBand := c.profile.floatTarget()
	ceiling := c.groundReference(packets, samples, floatAltitude-floatBand) + cfg.GroundAltitude

	for i, s := range samples {
		v := c.vote(s.rate)
		nearGround := s.altitude <= ceiling

		switch {
		case v == voteDown && nearGround:
			groundDown++
			groundLevel = 0
		case v == voteLevel && nearGround:
			groundLevel++
			groundDown = 0
		default:
			groundDown, groundLevel = 0, 0
		}
		if v == voteLevel {
			level += s.interval
		} else {
			level = 0
		}

		if state == PhaseLanded {
			continue
		}
		if groundDown >= cfg.LandedSamples || (descended && groundLevel >= cfg.LandedSamples) {
			state = PhaseLanded
			continue
		}

		switch c.majority(samples[max(0, i+1-cfg.WindowSamples) : i+1]) {
		case voteUp:
			state = PhaseAscending
		case voteDown:
			state = PhaseDescending
			descended = true
		case voteLevel:
			if level >= cfg.FloatDuration && abs(s.altitude-floatAltitude) <= floatBand {
				state = PhaseFloating
			}
		}
	}

	result := Classification{
		Phase:   state,
		Profile: c.profile.clone(),
		Samples: len(samples),
	}

	window := samples[max(0, len(samples)-cfg.WindowSamples):]
	var up, down float64
	var nUp, nDown int
	for _, s := range window {
		switch c.vote(s.rate) {
		case voteUp:
			up += s.rate
			nUp++
		case voteDown:
			down += s.rate
			nDown++
		}
	}
	if nUp > 0 {
		result.ObservedAscentRate = up / float64(nUp)
	}
	if nDown > 0 {
		result.ObservedDescentRate = down / float64(nDown)
	}

	if state == PhaseAscending && result.ObservedAscentRate > 0 {
		result.Profile.AscentRate = result.ObservedAscentRate
	}
	if descended || state == PhaseLanded {
		result.DescentOnly = true
		result.Profile.Float = nil
	}
	return result
}

// maxLaunchElevation bounds the terrain a launch fix can stand for.
const maxLaunchElevation = 4000.0

// groundReference returns the ground elevation near-ground is measured from.
// A payload at rest on its first sample, low and well below the float
// altitude, is taken to be sitting at the launch site.
func (c *Classifier) groundReference(packets []telemetry.Packet, samples []rateSample, below float64) float64 {
	below = min(below, maxLaunchElevation)
	if c.config.GroundElevation != 0 || len(samples) == 0 || c.vote(samples[0].rate) != voteLevel {
		return c.config.GroundElevation
	}
	for _, p := range packets {
		if !p.Altitude.Valid {
			continue
		}
		if p.Altitude.Meters < below {
			return p.Altitude.Meters
		}
		break
	}
	return c.config.GroundElevation
}

func (c *Classifier) vote(rate float64) vote {
	switch {
	case rate > c.config.VerticalRateEpsilon:
		return voteUp
	case rate < -c.config.VerticalRateEpsilon:
		return voteDown
	default:
		return voteLevel
	}
}

// majority returns the vote with strictly more samples than any other, or
// voteNone on a tie.
func (c *Classifier) majority(window []rateSample) vote {
	var counts [3]int
	for _, s := range window {
		counts[c.vote(s.rate)]++
	}
	best, bestCount, tie := voteNone, 0, false
	for v, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tie = vote(v), n, false
		case n == bestCount && n > 0:
			tie = true
		}
	}
	if tie {
		return voteNone
	}
	return best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
