package coordinates

import "math"

// LookAngle is where a target appears from a ground station: the direction
// to point a tracking antenna and how far away the target is.
type LookAngle struct {
	// Elevation in degrees above the horizon
	// 0 = horizon, 90 = zenith (straight up)
	Elevation float64

	// Azimuth in degrees from north (0-360)
	// 0/360 = North, 90 = East, 180 = South, 270 = West
	Azimuth float64

	// GroundRange is the great-circle surface distance in meters
	GroundRange float64

	// SlantRange is the straight-line distance in meters
	SlantRange float64
}

// LookAngleFrom computes the look angle from observer to target.
//
// Elevation is atan2(Δh, d) over the surface distance d, corrected for the
// drop of the horizon due to Earth's curvature (d²/2R), which matters at
// balloon ranges of a few hundred kilometers.
func LookAngleFrom(observer, target Geographic) LookAngle {
	ground := DistanceMeters(observer, target)
	radius := EarthRadiusKm * 1000.0

	drop := ground * ground / (2 * radius)
	deltaAltitude := target.Altitude - observer.Altitude - drop

	elevation := math.Atan2(deltaAltitude, ground) * RadiansToDegrees

	azimuth := 0.0
	if ground > 0 {
		azimuth = Bearing(observer, target)
	}

	return LookAngle{
		Elevation:   elevation,
		Azimuth:     azimuth,
		GroundRange: ground,
		SlantRange:  math.Hypot(ground, target.Altitude-observer.Altitude),
	}
}
