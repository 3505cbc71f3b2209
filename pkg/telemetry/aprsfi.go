package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAprsFiURL is the aprs.fi query endpoint.
const DefaultAprsFiURL = "https://api.aprs.fi/api/get"

// AprsFiSource queries aprs.fi for the last known positions of a set of callsigns.
// API Documentation: https://aprs.fi/page/api
// Access policy: no more than one query per 10 seconds.
type AprsFiSource struct {
	httpPoller

	baseURL   string
	apiKey    string
	callsigns []string

	// lookback bounds how far back aprs.fi searches (timerange/tail)
	lookback time.Duration
}

// NewAprsFiSource creates an aprs.fi source. aprs.fi requires both an API key
// and an explicit callsign list.
func NewAprsFiSource(baseURL, apiKey string, callsigns []string, minInterval time.Duration) (*AprsFiSource, error) {
	if baseURL == "" {
		baseURL = DefaultAprsFiURL
	}
	if apiKey == "" {
		return nil, sourceError("aprs.fi", FailedToEstablish, fmt.Errorf("no aprs.fi API key specified"))
	}
	if len(callsigns) == 0 {
		return nil, sourceError("aprs.fi", FailedToEstablish, fmt.Errorf("queries to %s require a list of callsigns", baseURL))
	}
	normalized := make([]string, len(callsigns))
	for i, c := range callsigns {
		normalized[i] = NormalizeCallsign(c)
	}
	return &AprsFiSource{
		httpPoller: newHTTPPoller("aprs.fi", minInterval),
		baseURL:    baseURL,
		apiKey:     apiKey,
		callsigns:  normalized,
		lookback:   24 * time.Hour,
	}, nil
}

// Name implements Source.
func (s *AprsFiSource) Name() string { return s.name }

// Close implements Source. There are no persistent connections.
func (s *AprsFiSource) Close() error { return nil }

// URL returns the query URL, including the API key.
func (s *AprsFiSource) URL() string {
	q := url.Values{}
	q.Set("name", strings.Join(s.callsigns, ","))
	q.Set("what", "loc")
	q.Set("apikey", s.apiKey)
	q.Set("format", "json")
	seconds := strconv.Itoa(int(s.lookback / time.Second))
	q.Set("timerange", seconds)
	q.Set("tail", seconds)
	return s.baseURL + "?" + q.Encode()
}

// Drain implements Source.
func (s *AprsFiSource) Drain(ctx context.Context) ([]Packet, error) {
	now := time.Now()
	if err := s.admit(now); err != nil {
		return nil, err
	}

	var resp aprsFiResponse
	if err := s.getJSON(ctx, s.URL(), &resp); err != nil {
		return nil, err
	}
	if resp.Result != "ok" {
		return nil, sourceError(s.name, APIFailure, fmt.Errorf("query failure %q: %s", resp.Code, resp.Description))
	}

	packets := make([]Packet, 0, len(resp.Entries))
	var skipped int
	for _, entry := range resp.Entries {
		packet, err := entry.packet(now)
		if err != nil {
			skipped++
			continue
		}
		packet.Source = s.name
		packets = append(packets, packet)
	}
	if skipped > 0 && len(packets) == 0 {
		return nil, sourceError(s.name, ReadFailure, fmt.Errorf("%w: %d unparseable entries", ErrMalformedPacket, skipped))
	}
	return packets, nil
}

// aprsFiResponse is the JSON body returned by the aprs.fi get API.
type aprsFiResponse struct {
	Command     string        `json:"command"`
	Result      string        `json:"result"`
	What        string        `json:"what"`
	Found       int           `json:"found"`
	Code        string        `json:"code"`
	Description string        `json:"description"`
	Entries     []aprsFiEntry `json:"entries"`
}

// aprsFiEntry is one location entry. aprs.fi encodes most numbers as strings.
type aprsFiEntry struct {
	Class    string      `json:"class"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Time     string      `json:"time"`
	LastTime string      `json:"lasttime"`
	Lat      string      `json:"lat"`
	Lng      string      `json:"lng"`
	Altitude *jsonNumber `json:"altitude"`
	Course   *jsonNumber `json:"course"`
	Speed    *jsonNumber `json:"speed"`
	Symbol   string      `json:"symbol"`
	SrcCall  string      `json:"srccall"`
	DstCall  string      `json:"dstcall"`
	Comment  string      `json:"comment"`
	Path     string      `json:"path"`
}

func (e aprsFiEntry) packet(received time.Time) (Packet, error) {
	callsign := e.SrcCall
	if callsign == "" {
		callsign = e.Name
	}
	lat, err := strconv.ParseFloat(e.Lat, 64)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: latitude %q", ErrMalformedPacket, e.Lat)
	}
	lon, err := strconv.ParseFloat(e.Lng, 64)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: longitude %q", ErrMalformedPacket, e.Lng)
	}
	seconds, err := strconv.ParseInt(e.Time, 10, 64)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: time %q", ErrMalformedPacket, e.Time)
	}

	packet := Packet{
		Callsign: NormalizeCallsign(callsign),
		Time:     time.Unix(seconds, 0).UTC(),
		Position: Coordinate{Longitude: lon, Latitude: lat},
		Comment:  e.Comment,
		Symbol:   e.Symbol,
		Received: received,
	}
	if e.Altitude != nil {
		packet.Altitude = Meters(float64(*e.Altitude))
	}
	if e.SrcCall != "" && e.DstCall != "" {
		header := e.SrcCall + ">" + e.DstCall
		if e.Path != "" {
			header += "," + e.Path
		}
		packet.Raw = header
	}
	return packet, packet.Validate()
}

// jsonNumber accepts both JSON numbers and numeric strings.
type jsonNumber float64

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*n = jsonNumber(v)
	return nil
}
