// Package telemetry defines balloon location packets and the sources that produce them.
//
// A Source is anything that can be drained of newly available packets: a serial
// APRS TNC, an internet aggregator such as aprs.fi or SondeHub, a database table,
// or a local text/GeoJSON file. Every source converts its native records into
// Packet values, which the tracking engine then orders and deduplicates.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultResolution is the time resolution assumed for sources that do not
// declare one. APRS and most aggregators report whole seconds.
const DefaultResolution = time.Second

// Coordinate is a WGS84 horizontal position in decimal degrees.
type Coordinate struct {
	// Longitude in decimal degrees (-180 to +180)
	Longitude float64

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64
}

// Valid reports whether the coordinate is finite and within WGS84 bounds.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Longitude) || math.IsNaN(c.Latitude) ||
		math.IsInf(c.Longitude, 0) || math.IsInf(c.Latitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// ApproxEqual reports whether two coordinates agree within tolerance degrees
// on both axes.
func (c Coordinate) ApproxEqual(o Coordinate, tolerance float64) bool {
	return math.Abs(c.Longitude-o.Longitude) < tolerance && math.Abs(c.Latitude-o.Latitude) < tolerance
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", c.Longitude, c.Latitude)
}

// Altitude is an optional altitude in meters above mean sea level.
type Altitude struct {
	Meters float64
	Valid  bool
}

// Meters returns a valid Altitude.
func Meters(m float64) Altitude {
	return Altitude{Meters: m, Valid: true}
}

// NoAltitude is the zero Altitude; the packet carried no altitude.
var NoAltitude = Altitude{}

func (a Altitude) String() string {
	if !a.Valid {
		return "-"
	}
	return fmt.Sprintf("%.2f m", a.Meters)
}

// Packet is a single location observation of a callsign.
//
// Packets are values: they contain no pointers, slices or maps, so a copy can
// never be altered through another copy. Adapters build them once and never
// touch them again.
type Packet struct {
	// Callsign identifies the payload (e.g. "W3EAX-8")
	Callsign string

	// Time is the observation time reported by the payload. It is zero when the
	// raw input carried no timestamp; the registry then substitutes Received.
	Time time.Time

	// Position is the reported horizontal location
	Position Coordinate

	// Altitude is the reported altitude, when present
	Altitude Altitude

	// Comment is free text carried by the packet (APRS comment field)
	Comment string

	// Symbol is the two-character APRS symbol (table + code), when known
	Symbol string

	// Raw is the undecoded frame or record, when available
	Raw string

	// Source names the connection that produced the packet
	Source string

	// Resolution is the granularity of Time for this source (default 1s)
	Resolution time.Duration

	// Received is when the adapter obtained the packet
	Received time.Time
}

// TimeResolution returns the packet's time resolution, defaulting to one second.
func (p Packet) TimeResolution() time.Duration {
	if p.Resolution <= 0 {
		return DefaultResolution
	}
	return p.Resolution
}

// ObservedAt returns Time, or Received when the packet carried no timestamp.
func (p Packet) ObservedAt() time.Time {
	if p.Time.IsZero() {
		return p.Received
	}
	return p.Time
}

// Validate checks the fields every packet must carry.
// The returned error wraps ErrMalformedPacket.
func (p Packet) Validate() error {
	if err := ValidateCallsign(p.Callsign); err != nil {
		return err
	}
	if !p.Position.Valid() {
		return fmt.Errorf("%w: invalid coordinate %s", ErrMalformedPacket, p.Position)
	}
	if p.ObservedAt().IsZero() {
		return fmt.Errorf("%w: no timestamp", ErrMalformedPacket)
	}
	if p.Altitude.Valid && (math.IsNaN(p.Altitude.Meters) || math.IsInf(p.Altitude.Meters, 0)) {
		return fmt.Errorf("%w: invalid altitude", ErrMalformedPacket)
	}
	return nil
}

func (p Packet) String() string {
	return fmt.Sprintf("%s %s %s %s [%s]",
		p.Callsign, p.ObservedAt().UTC().Format(time.RFC3339), p.Position, p.Altitude, p.Source)
}

// NormalizeCallsign upper-cases and trims a callsign.
func NormalizeCallsign(callsign string) string {
	return strings.ToUpper(strings.TrimSpace(callsign))
}

// ValidateCallsign accepts APRS-style callsigns with an optional SSID and the
// longer payload names used by SondeHub (letters, digits, '-', '_', '/').
func ValidateCallsign(callsign string) error {
	if callsign == "" {
		return fmt.Errorf("%w: missing callsign", ErrMalformedPacket)
	}
	if len(callsign) > 32 {
		return fmt.Errorf("%w: callsign %q too long", ErrMalformedPacket, callsign)
	}
	for _, r := range callsign {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '/':
		default:
			return fmt.Errorf("%w: invalid callsign %q", ErrMalformedPacket, callsign)
		}
	}
	return nil
}

// Source is implemented by every telemetry provider.
//
// Drain returns the packets that became available since the previous call. It
// must honour ctx and return promptly once ctx is done; it is called once per
// poll interval and may be called again after an error.
type Source interface {
	// Name identifies the source in packets, logs and metrics
	Name() string

	// Drain returns newly available packets
	Drain(ctx context.Context) ([]Packet, error)

	// Close releases any resources held by the source
	Close() error
}
