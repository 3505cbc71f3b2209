package tracking

import (
	"time"

	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// Metrics are the kinematics derived from two consecutive packets of a track.
// They are only meaningful between those two packets.
type Metrics struct {
	// Interval is the time elapsed between the two packets (always > 0)
	Interval time.Duration

	// Distance is the great-circle ground distance in meters
	Distance float64

	// GroundSpeed is the horizontal speed in m/s
	GroundSpeed float64

	// Bearing is the direction of travel in degrees from north
	Bearing float64

	// Ascent is the altitude change in meters; valid when HasAltitude
	Ascent float64

	// AscentRate is the vertical rate in m/s (negative when descending); valid when HasAltitude
	AscentRate float64

	// HasAltitude reports whether both packets carried an altitude
	HasAltitude bool
}

// computeMetrics derives the kinematics from a to b, where b is later than a.
func computeMetrics(a, b telemetry.Packet) Metrics {
	from := geographic(a.Position)
	to := geographic(b.Position)

	m := Metrics{
		Interval: b.Time.Sub(a.Time),
		Distance: coordinates.DistanceMeters(from, to),
	}
	if m.Distance > 0 {
		m.Bearing = coordinates.Bearing(from, to)
	}

	seconds := m.Interval.Seconds()
	if seconds > 0 {
		m.GroundSpeed = m.Distance / seconds
	}

	if a.Altitude.Valid && b.Altitude.Valid {
		m.HasAltitude = true
		m.Ascent = b.Altitude.Meters - a.Altitude.Meters
		if seconds > 0 {
			m.AscentRate = m.Ascent / seconds
		}
	}
	return m
}

func geographic(c telemetry.Coordinate) coordinates.Geographic {
	return coordinates.Geographic{Latitude: c.Latitude, Longitude: c.Longitude}
}
