package tracking

import (
	"math"
	"time"

	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// Extrapolation is a short-term dead-reckoned position of a balloon.
type Extrapolation struct {
	Sample

	// Confidence is a measure of reliability (0-1), falling with the
	// extrapolation horizon
	Confidence float64
}

// maxExtrapolation is the horizon at which confidence reaches zero.
const maxExtrapolation = 10 * time.Minute

// Extrapolate dead-reckons where the balloon is at time at from the last
// packet and the most recent kinematics, assuming constant ground speed,
// bearing and vertical rate. The altitude never goes below zero.
func (v *TrackView) Extrapolate(at time.Time) (Extrapolation, bool) {
	last, ok := v.Last()
	if !ok {
		return Extrapolation{}, false
	}
	start := Sample{Time: last.Time, Position: last.Position, Altitude: last.Altitude.Meters}

	deltaT := at.Sub(last.Time)
	if deltaT <= 0 || len(v.Metrics) == 0 || v.Phase() == PhaseLanded {
		start.Time = at
		return Extrapolation{Sample: start, Confidence: 1}, true
	}

	m := v.Metrics[len(v.Metrics)-1]
	confidence := math.Max(0, 1-deltaT.Seconds()/maxExtrapolation.Seconds())

	lat, lon := deadReckon(last.Position.Latitude, last.Position.Longitude, m.GroundSpeed, m.Bearing, deltaT.Seconds())
	altitude := start.Altitude
	if m.HasAltitude {
		altitude += m.AscentRate * deltaT.Seconds()
	}
	if altitude < 0 {
		altitude = 0
		confidence *= 0.5
	}

	return Extrapolation{
		Sample: Sample{
			Time:     at,
			Position: telemetry.Coordinate{Latitude: lat, Longitude: lon},
			Altitude: altitude,
		},
		Confidence: confidence,
	}, true
}

// deadReckon moves along a great circle from lat/lon at speed m/s on the
// given bearing for deltaT seconds.
func deadReckon(lat, lon, speed, bearingDeg, deltaT float64) (float64, float64) {
	latRad := lat * coordinates.DegreesToRadians
	lonRad := lon * coordinates.DegreesToRadians
	bearingRad := bearingDeg * coordinates.DegreesToRadians

	angularDistance := speed * deltaT / (coordinates.EarthRadiusKm * 1000.0)

	// lat2 = asin(sin(lat1)*cos(d) + cos(lat1)*sin(d)*cos(brg))
	newLatRad := math.Asin(
		math.Sin(latRad)*math.Cos(angularDistance) +
			math.Cos(latRad)*math.Sin(angularDistance)*math.Cos(bearingRad),
	)

	// lon2 = lon1 + atan2(sin(brg)*sin(d)*cos(lat1), cos(d)-sin(lat1)*sin(lat2))
	newLonRad := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angularDistance)*math.Cos(latRad),
		math.Cos(angularDistance)-math.Sin(latRad)*math.Sin(newLatRad),
	)

	return newLatRad * coordinates.RadiansToDegrees,
		coordinates.Longitude180(newLonRad * coordinates.RadiansToDegrees)
}
