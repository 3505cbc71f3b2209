package api

import (
	"time"

	"github.com/unklstewy/balloonscope/pkg/tracking"
)

type positionResponse struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  *float64  `json:"altitude,omitempty"`
}

type landingResponse struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Distance  float64   `json:"distance"`
	Bearing   float64   `json:"bearing"`
}

type trackResponse struct {
	Callsign        string            `json:"callsign"`
	Phase           string            `json:"phase"`
	Packets         int               `json:"packets"`
	Last            *positionResponse `json:"last,omitempty"`
	MaxAltitude     float64           `json:"max_altitude,omitempty"`
	AscentRate      float64           `json:"ascent_rate,omitempty"`
	DescentRate     float64           `json:"descent_rate,omitempty"`
	GroundSpeed     float64           `json:"ground_speed,omitempty"`
	Distance        float64           `json:"distance"`
	Falling         bool              `json:"falling,omitempty"`
	SecondsToGround float64           `json:"seconds_to_ground,omitempty"`
	Landing         *landingResponse  `json:"landing,omitempty"`
}

func newTrackResponse(view *tracking.TrackView) trackResponse {
	s := view.Summary
	resp := trackResponse{
		Callsign:    view.Callsign,
		Phase:       view.Phase().String(),
		Packets:     s.Packets,
		MaxAltitude: s.MaxAltitude,
		AscentRate:  s.MeanAscentRate,
		DescentRate: s.MeanDescentRate,
		GroundSpeed: s.MeanGroundSpeed,
		Distance:    s.Distance,
		Falling:     s.Falling,
	}
	if s.Falling {
		resp.SecondsToGround = s.TimeToGround.Seconds()
	}
	if last, ok := view.Last(); ok {
		pos := &positionResponse{
			Time:      last.Time,
			Latitude:  last.Position.Latitude,
			Longitude: last.Position.Longitude,
		}
		if last.Altitude.Valid {
			alt := last.Altitude.Meters
			pos.Altitude = &alt
		}
		resp.Last = pos
	}
	if s.HasLanding {
		landing, _ := view.Prediction.Landing()
		resp.Landing = &landingResponse{
			Time:      landing.Time,
			Latitude:  landing.Position.Latitude,
			Longitude: landing.Position.Longitude,
			Distance:  s.LandingDistance,
			Bearing:   s.LandingBearing,
		}
	}
	return resp
}

type packetResponse struct {
	positionResponse
	Source      string   `json:"source"`
	Comment     string   `json:"comment,omitempty"`
	AscentRate  *float64 `json:"ascent_rate,omitempty"`
	GroundSpeed *float64 `json:"ground_speed,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
}

type trackDetail struct {
	trackResponse
	DescentOnly bool             `json:"descent_only"`
	PacketList  []packetResponse `json:"packet_list"`
}

func newTrackDetail(view *tracking.TrackView) trackDetail {
	detail := trackDetail{
		trackResponse: newTrackResponse(view),
		DescentOnly:   view.Classification.DescentOnly,
		PacketList:    make([]packetResponse, 0, len(view.Packets)),
	}
	for i, p := range view.Packets {
		pr := packetResponse{
			positionResponse: positionResponse{
				Time:      p.Time,
				Latitude:  p.Position.Latitude,
				Longitude: p.Position.Longitude,
			},
			Source:  p.Source,
			Comment: p.Comment,
		}
		if p.Altitude.Valid {
			alt := p.Altitude.Meters
			pr.Altitude = &alt
		}
		if m, ok := view.MetricsBefore(i); ok {
			speed, dist := m.GroundSpeed, m.Distance
			pr.GroundSpeed = &speed
			pr.Distance = &dist
			if m.HasAltitude {
				rate := m.AscentRate
				pr.AscentRate = &rate
			}
		}
		detail.PacketList = append(detail.PacketList, pr)
	}
	return detail
}
