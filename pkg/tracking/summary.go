package tracking

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// Summary aggregates a track's history for display.
type Summary struct {
	Packets int

	// First and Last packet times
	First time.Time
	Last  time.Time

	// CurrentAltitude and MaxAltitude are the latest and highest reported
	// altitudes; valid when HasAltitude
	CurrentAltitude float64
	MaxAltitude     float64
	HasAltitude     bool

	// Distance is the total ground distance travelled in meters
	Distance float64

	// MeanGroundSpeed is the time-weighted mean speed in m/s
	MeanGroundSpeed float64

	// MeanInterval is the mean time between packets
	MeanInterval time.Duration

	// MeanAscentRate and AscentRateStdDev are over climbing pairs, m/s
	MeanAscentRate   float64
	AscentRateStdDev float64

	// MeanDescentRate is over sinking pairs, m/s (negative)
	MeanDescentRate float64

	// Falling is set when the latest vertical rate matches free fall;
	// TimeToGround is then the free fall estimate
	Falling      bool
	TimeToGround time.Duration

	// LandingDistance is the ground distance from the last packet to the
	// predicted landing in meters; valid when HasLanding
	LandingDistance float64
	LandingBearing  float64
	HasLanding      bool
}

// Summarize computes a Summary from a time-ordered history.
func Summarize(packets []telemetry.Packet, metrics []Metrics, prediction *PredictedTrajectory) Summary {
	s := Summary{Packets: len(packets)}
	if len(packets) == 0 {
		return s
	}
	s.First = packets[0].Time
	s.Last = packets[len(packets)-1].Time

	altitudes := make([]float64, 0, len(packets))
	for _, p := range packets {
		if p.Altitude.Valid {
			altitudes = append(altitudes, p.Altitude.Meters)
		}
	}
	if len(altitudes) > 0 {
		s.CurrentAltitude = altitudes[len(altitudes)-1]
		s.MaxAltitude = floats.Max(altitudes)
		s.HasAltitude = true
	}

	speeds := make([]float64, 0, len(metrics))
	weights := make([]float64, 0, len(metrics))
	var ascents, descents []float64
	for _, m := range metrics {
		s.Distance += m.Distance
		speeds = append(speeds, m.GroundSpeed)
		weights = append(weights, m.Interval.Seconds())
		if !m.HasAltitude {
			continue
		}
		switch {
		case m.AscentRate > 0:
			ascents = append(ascents, m.AscentRate)
		case m.AscentRate < 0:
			descents = append(descents, m.AscentRate)
		}
	}
	if len(speeds) > 0 {
		s.MeanGroundSpeed = stat.Mean(speeds, weights)
		s.MeanInterval = s.Last.Sub(s.First) / time.Duration(len(metrics))
	}
	if len(ascents) > 1 {
		s.MeanAscentRate, s.AscentRateStdDev = stat.MeanStdDev(ascents, nil)
	} else if len(ascents) == 1 {
		s.MeanAscentRate = ascents[0]
	}
	if len(descents) > 0 {
		s.MeanDescentRate = stat.Mean(descents, nil)
	}

	for i := len(metrics) - 1; i >= 0; i-- {
		if !metrics[i].HasAltitude {
			continue
		}
		altitude := packets[i+1].Altitude.Meters
		if Falling(altitude, metrics[i].AscentRate) {
			s.Falling = true
			s.TimeToGround = FreefallEstimate(altitude).TimeToGround
		}
		break
	}

	if landing, ok := prediction.Landing(); ok {
		last := packets[len(packets)-1]
		from := geographic(last.Position)
		to := geographic(landing.Position)
		s.LandingDistance = coordinates.DistanceMeters(from, to)
		if s.LandingDistance > 0 {
			s.LandingBearing = coordinates.Bearing(from, to)
		}
		s.HasLanding = true
	}
	return s
}

// String formats the summary as a single status line.
func (s Summary) String() string {
	parts := []string{fmt.Sprintf("%d packets", s.Packets)}
	if s.HasAltitude {
		parts = append(parts, fmt.Sprintf("alt %.0f m (max %.0f m)", s.CurrentAltitude, s.MaxAltitude))
	}
	if s.MeanAscentRate > 0 {
		parts = append(parts, fmt.Sprintf("ascent %.2f m/s", s.MeanAscentRate))
	}
	if s.MeanDescentRate < 0 {
		parts = append(parts, fmt.Sprintf("descent %.2f m/s", s.MeanDescentRate))
	}
	if s.Packets > 1 {
		parts = append(parts,
			fmt.Sprintf("speed %.1f m/s", s.MeanGroundSpeed),
			fmt.Sprintf("every %s", s.MeanInterval.Round(time.Second)))
	}
	if s.Falling {
		parts = append(parts, fmt.Sprintf("free fall, %s to ground", s.TimeToGround.Round(time.Second)))
	}
	if s.HasLanding {
		parts = append(parts, fmt.Sprintf("landing %.1f km at %.0f°", s.LandingDistance/1000, s.LandingBearing))
	}
	return strings.Join(parts, ", ")
}
