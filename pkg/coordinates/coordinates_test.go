package coordinates

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name      string
		from, to  Geographic
		want      float64
		tolerance float64
	}{
		{"Same point", Geographic{Latitude: 40, Longitude: -74}, Geographic{Latitude: 40, Longitude: -74}, 0, 0},
		{"One degree of latitude", Geographic{Latitude: 40, Longitude: -74}, Geographic{Latitude: 41, Longitude: -74}, 111195, 500},
		{"One degree of longitude at equator", Geographic{Latitude: 0, Longitude: 0}, Geographic{Latitude: 0, Longitude: 1}, 111195, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.from, tt.to)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceMeters = %.1f, want %.1f (±%.1f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestBearing(t *testing.T) {
	origin := Geographic{Latitude: 40, Longitude: -74}

	tests := []struct {
		name string
		to   Geographic
		want float64
	}{
		{"North", Geographic{Latitude: 41, Longitude: -74}, 0},
		{"East", Geographic{Latitude: 40, Longitude: -73}, 90},
		{"South", Geographic{Latitude: 39, Longitude: -74}, 180},
		{"West", Geographic{Latitude: 40, Longitude: -75}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(origin, tt.to)
			diff := math.Abs(got - tt.want)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 1.0 {
				t.Errorf("Bearing = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestLongitudeConversions(t *testing.T) {
	tests := []struct {
		in, want360, want180 float64
	}{
		{-77.9, 282.1, -77.9},
		{0, 0, 0},
		{179.5, 179.5, 179.5},
		{-180, 180, 180},
	}

	for _, tt := range tests {
		if got := Longitude360(tt.in); math.Abs(got-tt.want360) > 1e-9 {
			t.Errorf("Longitude360(%v) = %v, want %v", tt.in, got, tt.want360)
		}
		if got := Longitude180(Longitude360(tt.in)); math.Abs(got-tt.want180) > 1e-9 {
			t.Errorf("Longitude180(%v) = %v, want %v", tt.in, got, tt.want180)
		}
	}
}

// TestLookAngleFrom checks antenna pointing from a ground station.
func TestLookAngleFrom(t *testing.T) {
	station := Geographic{Latitude: 40.0, Longitude: -74.0, Altitude: 100.0}

	t.Run("Balloon directly overhead", func(t *testing.T) {
		angle := LookAngleFrom(station, Geographic{Latitude: 40.0, Longitude: -74.0, Altitude: 10100.0})
		if math.Abs(angle.Elevation-90) > 1e-6 {
			t.Errorf("Elevation = %.2f, want 90", angle.Elevation)
		}
		if math.Abs(angle.SlantRange-10000) > 1e-6 {
			t.Errorf("SlantRange = %.1f, want 10000", angle.SlantRange)
		}
	})

	t.Run("Balloon east near the horizon", func(t *testing.T) {
		angle := LookAngleFrom(station, Geographic{Latitude: 40.0, Longitude: -73.0, Altitude: 100.0})
		if angle.Elevation >= 0 || angle.Elevation < -1 {
			t.Errorf("Elevation = %.2f, want slightly negative (curvature)", angle.Elevation)
		}
		if math.Abs(angle.Azimuth-90) > 1 {
			t.Errorf("Azimuth = %.2f, want ~90", angle.Azimuth)
		}
	})

	t.Run("High balloon far away", func(t *testing.T) {
		angle := LookAngleFrom(station, Geographic{Latitude: 41.0, Longitude: -74.0, Altitude: 30000.0})
		if angle.Elevation < 10 || angle.Elevation > 16 {
			t.Errorf("Elevation = %.2f, want between 10 and 16", angle.Elevation)
		}
	})
}
