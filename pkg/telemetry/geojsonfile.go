package telemetry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// GeoJSONSource reads Point features from a GeoJSON FeatureCollection, such
// as one previously written by the GeoJSON output. The file is re-read only
// when its modification time changes.
type GeoJSONSource struct {
	path      string
	callsigns map[string]bool
	modTime   time.Time
}

// NewGeoJSONSource creates a source for a GeoJSON file.
func NewGeoJSONSource(path string, callsigns []string) *GeoJSONSource {
	return &GeoJSONSource{
		path:      expandHome(path),
		callsigns: callsignSet(callsigns),
	}
}

// Name implements Source.
func (s *GeoJSONSource) Name() string { return s.path }

// Close implements Source.
func (s *GeoJSONSource) Close() error { return nil }

// Drain implements Source.
func (s *GeoJSONSource) Drain(ctx context.Context) ([]Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, sourceError(s.path, FailedToEstablish, err)
	}
	if info.ModTime().Equal(s.modTime) {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, sourceError(s.path, ReadFailure, err)
	}
	packets, err := DecodeGeoJSON(data, time.Now())
	if err != nil {
		return nil, sourceError(s.path, ReadFailure, err)
	}
	s.modTime = info.ModTime()

	kept := packets[:0]
	for _, p := range packets {
		if len(s.callsigns) > 0 && !s.callsigns[p.Callsign] {
			continue
		}
		if p.Source == "" {
			p.Source = s.path
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// DecodeGeoJSON converts the Point features of a FeatureCollection into
// packets. Features without a callsign or time are skipped.
//
// Recognised properties: callsign (or from), time (RFC 3339 string or Unix
// seconds), altitude (or the third coordinate), comment, raw, source.
func DecodeGeoJSON(data []byte, received time.Time) ([]Packet, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GeoJSON: %w", err)
	}

	packets := make([]Packet, 0, len(fc.Features))
	for _, feature := range fc.Features {
		if feature.Geometry == nil || !feature.Geometry.IsPoint() || len(feature.Geometry.Point) < 2 {
			continue
		}
		packet, err := featurePacket(feature, received)
		if err != nil {
			continue
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

func featurePacket(feature *geojson.Feature, received time.Time) (Packet, error) {
	point := feature.Geometry.Point

	callsign, err := feature.PropertyString("callsign")
	if err != nil {
		callsign, err = feature.PropertyString("from")
		if err != nil {
			return Packet{}, fmt.Errorf("%w: feature without callsign", ErrMalformedPacket)
		}
	}

	t, err := featureTime(feature.Properties["time"])
	if err != nil {
		return Packet{}, err
	}

	packet := Packet{
		Callsign: NormalizeCallsign(callsign),
		Time:     t,
		Position: Coordinate{Longitude: point[0], Latitude: point[1]},
		Received: received,
	}
	if alt, err := feature.PropertyFloat64("altitude"); err == nil {
		packet.Altitude = Meters(alt)
	} else if len(point) > 2 {
		packet.Altitude = Meters(point[2])
	}
	packet.Comment, _ = feature.PropertyString("comment")
	packet.Raw, _ = feature.PropertyString("raw")
	packet.Source, _ = feature.PropertyString("source")

	return packet, packet.Validate()
}

func featureTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, nil
		}
		if parsed, ok := parseLineTime(t); ok {
			return parsed, nil
		}
		if seconds, err := strconv.ParseFloat(t, 64); err == nil {
			return unixSeconds(seconds), nil
		}
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformedPacket, t)
	case float64:
		return unixSeconds(t), nil
	default:
		return time.Time{}, fmt.Errorf("%w: feature without time", ErrMalformedPacket)
	}
}

func unixSeconds(seconds float64) time.Time {
	whole := int64(seconds)
	return time.Unix(whole, int64((seconds-float64(whole))*1e9)).UTC()
}
