// Package coordinates provides the geodesy used by the tracking engine:
// great-circle distance and bearing between telemetry fixes, longitude
// normalisation for prediction services, and look angles from a ground station.
package coordinates

import (
	"math"

	"github.com/skypies/geo"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's radius in kilometers (WGS84 mean radius)
	EarthRadiusKm = 6371.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048
)

// Geographic represents a position on or above Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above mean sea level (MSL)
	Altitude float64
}

// ToRadians converts the Geographic coordinates to radians.
// Returns (latRad, lonRad, altMeters).
func (g Geographic) ToRadians() (float64, float64, float64) {
	return g.Latitude * DegreesToRadians,
		g.Longitude * DegreesToRadians,
		g.Altitude
}

func (g Geographic) latlong() geo.Latlong {
	return geo.Latlong{Lat: g.Latitude, Long: g.Longitude}
}

// DistanceMeters returns the great-circle surface distance between two points.
func DistanceMeters(from, to Geographic) float64 {
	if from.Latitude == to.Latitude && from.Longitude == to.Longitude {
		return 0
	}
	return from.latlong().DistKM(to.latlong()) * 1000.0
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Returns bearing in degrees (0-360), where 0/360 = North, 90 = East, 180 = South, 270 = West.
func Bearing(from, to Geographic) float64 {
	return NormalizeAzimuth(from.latlong().BearingTowards(to.latlong()))
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// Longitude360 maps a longitude in [-180, 180] to [0, 360), the convention
// used by Tawhiri.
func Longitude360(longitude float64) float64 {
	return NormalizeAzimuth(longitude)
}

// Longitude180 maps a longitude in [0, 360) back to (-180, 180].
func Longitude180(longitude float64) float64 {
	lon := NormalizeAzimuth(longitude)
	if lon > 180 {
		lon -= 360
	}
	return lon
}
