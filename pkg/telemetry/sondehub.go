package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultSondeHubURL is the SondeHub v2 API root.
const DefaultSondeHubURL = "https://api.v2.sondehub.org"

// SondeHubSource retrieves amateur balloon telemetry from SondeHub.
// API Documentation: https://github.com/projecthorus/sondehub-infra/wiki
type SondeHubSource struct {
	httpPoller

	baseURL   string
	callsigns []string

	// start and end bound the query window; zero values are open
	start time.Time
	end   time.Time
}

// NewSondeHubSource creates a SondeHub source. The amateur telemetry API is
// queried per payload callsign, so at least one callsign is required.
func NewSondeHubSource(baseURL string, callsigns []string, start, end time.Time, minInterval time.Duration) (*SondeHubSource, error) {
	if baseURL == "" {
		baseURL = DefaultSondeHubURL
	}
	if len(callsigns) == 0 {
		return nil, sourceError("sondehub", FailedToEstablish, fmt.Errorf("the API requires a list of callsigns"))
	}
	normalized := make([]string, len(callsigns))
	for i, c := range callsigns {
		normalized[i] = NormalizeCallsign(c)
	}
	return &SondeHubSource{
		httpPoller: newHTTPPoller("sondehub", minInterval),
		baseURL:    baseURL,
		callsigns:  normalized,
		start:      start,
		end:        end,
	}, nil
}

// Name implements Source.
func (s *SondeHubSource) Name() string { return s.name }

// Close implements Source.
func (s *SondeHubSource) Close() error { return nil }

// URLs returns one query URL per callsign.
func (s *SondeHubSource) URLs(now time.Time) []string {
	q := url.Values{}
	if !s.end.IsZero() {
		q.Set("datetime", s.end.Format(time.RFC3339))
	}
	if !s.start.IsZero() {
		until := now
		if !s.end.IsZero() {
			until = s.end
		}
		q.Set("last", strconv.Itoa(int(until.Sub(s.start)/time.Second)))
	}

	urls := make([]string, 0, len(s.callsigns))
	for _, callsign := range s.callsigns {
		u := fmt.Sprintf("%s/amateur/telemetry/%s", s.baseURL, url.PathEscape(callsign))
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		urls = append(urls, u)
	}
	return urls
}

// Drain implements Source.
func (s *SondeHubSource) Drain(ctx context.Context) ([]Packet, error) {
	now := time.Now()
	if err := s.admit(now); err != nil {
		return nil, err
	}

	var packets []Packet
	for _, u := range s.URLs(now) {
		var records []sondeHubRecord
		if err := s.getJSON(ctx, u, &records); err != nil {
			return packets, err
		}
		for _, record := range records {
			packet := record.packet(now)
			if packet.Validate() != nil {
				continue
			}
			packet.Source = s.name
			packets = append(packets, packet)
		}
	}
	return packets, nil
}

// sondeHubRecord is one amateur telemetry record.
// Format: https://github.com/projecthorus/sondehub-infra/wiki/%5BDRAFT%5D-Amateur-Balloon-Telemetry-Format
type sondeHubRecord struct {
	SoftwareName     string    `json:"software_name"`
	SoftwareVersion  string    `json:"software_version"`
	UploaderCallsign string    `json:"uploader_callsign"`
	TimeReceived     time.Time `json:"time_received"`
	PayloadCallsign  string    `json:"payload_callsign"`
	Datetime         time.Time `json:"datetime"`
	Lat              float64   `json:"lat"`
	Lon              float64   `json:"lon"`
	Alt              *float64  `json:"alt"`
	Comment          string    `json:"comment"`
	Raw              string    `json:"raw"`
	Modulation       string    `json:"modulation"`
}

func (r sondeHubRecord) packet(received time.Time) Packet {
	packet := Packet{
		Callsign: NormalizeCallsign(r.PayloadCallsign),
		Time:     r.Datetime,
		Position: Coordinate{Longitude: r.Lon, Latitude: r.Lat},
		Comment:  r.Comment,
		Raw:      r.Raw,
		Received: received,
	}
	if r.Alt != nil {
		packet.Altitude = Meters(*r.Alt)
	}
	// APRS frames relayed through SondeHub still carry the symbol
	if r.Raw != "" {
		if decoded, err := ParseAPRSFrame(r.Raw, r.Datetime); err == nil {
			packet.Symbol = decoded.Symbol
		}
	}
	return packet
}
