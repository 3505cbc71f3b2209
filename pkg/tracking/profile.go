package tracking

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultFloatUncertainty is the float altitude band used when none is configured.
const DefaultFloatUncertainty = 500.0

// FloatStage describes a planned float at roughly constant altitude.
type FloatStage struct {
	// Altitude is the float altitude in meters
	Altitude float64

	// Duration is how long the balloon is expected to float
	Duration time.Duration

	// Uncertainty is the altitude band in meters around Altitude that still
	// counts as floating (default 500 m)
	Uncertainty float64
}

// Band returns the configured uncertainty, or the default.
func (f FloatStage) Band() float64 {
	if f.Uncertainty > 0 {
		return f.Uncertainty
	}
	return DefaultFloatUncertainty
}

// Profile is the flight profile sent to the prediction service.
type Profile struct {
	// AscentRate is the expected ascent rate in m/s
	AscentRate float64

	// BurstAltitude is the expected burst altitude in meters
	BurstAltitude float64

	// SeaLevelDescentRate is the expected descent rate at sea level in m/s (positive)
	SeaLevelDescentRate float64

	// Float is an optional float stage
	Float *FloatStage
}

// DefaultProfile returns a typical latex-balloon profile; the descent rate
// is the freefall estimate at sea level.
func DefaultProfile() Profile {
	return Profile{
		AscentRate:          5.5,
		BurstAltitude:       28000,
		SeaLevelDescentRate: -FreefallEstimate(0).AscentRate,
	}
}

// Validate checks the required parameters.
func (p Profile) Validate() error {
	var errs []error
	if !(p.AscentRate > 0) {
		errs = append(errs, fmt.Errorf("ascent rate must be positive, got %v", p.AscentRate))
	}
	if !(p.BurstAltitude > 0) {
		errs = append(errs, fmt.Errorf("burst altitude must be positive, got %v", p.BurstAltitude))
	}
	if !(p.SeaLevelDescentRate > 0) {
		errs = append(errs, fmt.Errorf("sea level descent rate must be positive, got %v", p.SeaLevelDescentRate))
	}
	if p.Float != nil {
		if !(p.Float.Altitude > 0) {
			errs = append(errs, fmt.Errorf("float altitude must be positive, got %v", p.Float.Altitude))
		}
		if p.Float.Duration < 0 {
			errs = append(errs, fmt.Errorf("float duration must not be negative, got %v", p.Float.Duration))
		}
	}
	return errors.Join(errs...)
}

// clone returns a copy whose float stage is an independent copy, so a
// Profile value never shares its FloatStage with another.
func (p Profile) clone() Profile {
	if p.Float != nil {
		f := *p.Float
		p.Float = &f
	}
	return p
}

// floatTarget returns the altitude a level balloon is expected to hold and
// the band around it.
func (p Profile) floatTarget() (altitude, band float64) {
	if p.Float != nil {
		return p.Float.Altitude, p.Float.Band()
	}
	return p.BurstAltitude, DefaultFloatUncertainty
}

// Freefall is the empirical descent model of a burst balloon under a parachute.
type Freefall struct {
	// AscentRate is the expected vertical rate in m/s (negative)
	AscentRate float64

	// Uncertainty is the 20% band around AscentRate in m/s
	Uncertainty float64

	// TimeToGround is the expected time until landing
	TimeToGround time.Duration
}

// FreefallEstimate returns the expected descent at the given altitude in meters.
// The model is fitted to recovered UMD flights:
// rate = -5.8e-08·h² - 6.001 m/s, time = 1695.02·atan(9.8311e-05·h) s.
func FreefallEstimate(altitude float64) Freefall {
	rate := -5.8e-08*altitude*altitude - 6.001
	seconds := 1695.02 * math.Atan(9.8311e-05*altitude)
	return Freefall{
		AscentRate:   rate,
		Uncertainty:  math.Abs(0.2 * rate),
		TimeToGround: time.Duration(seconds * float64(time.Second)),
	}
}

// Falling reports whether an observed vertical rate at altitude matches the
// freefall model within its uncertainty.
func Falling(altitude, ascentRate float64) bool {
	estimate := FreefallEstimate(altitude)
	return math.Abs(ascentRate-estimate.AscentRate) <= estimate.Uncertainty
}
