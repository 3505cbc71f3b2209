package telemetry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FeetToMeters converts APRS altitudes (feet) to meters.
const FeetToMeters = 0.3048

var altitudePattern = regexp.MustCompile(`/A=(-?\d{5,6})`)

// Frame is a decoded TNC2-format APRS frame.
type Frame struct {
	// From is the source callsign (with SSID)
	From string

	// To is the destination field (often the software identifier, e.g. APRS)
	To string

	// Path lists the digipeater/igate path
	Path []string

	// Info is the information field following the first ':'
	Info string
}

// SplitFrame breaks a TNC2 frame `SRC>DST,PATH:info` into its parts.
func SplitFrame(raw string) (Frame, error) {
	raw = strings.TrimRight(raw, "\r\n")
	header, info, ok := strings.Cut(raw, ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: no information field in %q", ErrMalformedPacket, raw)
	}
	from, rest, ok := strings.Cut(header, ">")
	if !ok || from == "" {
		return Frame{}, fmt.Errorf("%w: no source callsign in %q", ErrMalformedPacket, raw)
	}
	fields := strings.Split(rest, ",")
	frame := Frame{
		From: strings.TrimSpace(from),
		To:   fields[0],
		Info: info,
	}
	if len(fields) > 1 {
		frame.Path = fields[1:]
	}
	if frame.To == "" {
		return Frame{}, fmt.Errorf("%w: no destination in %q", ErrMalformedPacket, raw)
	}
	return frame, nil
}

// ParseAPRSFrame decodes a position report from a raw TNC2 frame.
//
// Supported information fields are the position formats `!`, `=`, `/` and `@`
// with uncompressed or base-91 compressed coordinates. Timestamps are resolved
// against reference, which should be the receipt time; a position without a
// timestamp is stamped with reference. Mic-E, objects, items and other
// non-position formats return ErrUnsupportedFormat.
func ParseAPRSFrame(raw string, reference time.Time) (Packet, error) {
	frame, err := SplitFrame(raw)
	if err != nil {
		return Packet{}, err
	}
	if len(frame.Info) == 0 {
		return Packet{}, fmt.Errorf("%w: empty information field", ErrMalformedPacket)
	}

	packet := Packet{
		Callsign: NormalizeCallsign(frame.From),
		Raw:      strings.TrimRight(raw, "\r\n"),
		Time:     reference,
		Received: reference,
	}
	if err := ValidateCallsign(packet.Callsign); err != nil {
		return Packet{}, err
	}

	body := frame.Info[1:]
	switch frame.Info[0] {
	case '!', '=':
	case '/', '@':
		if len(body) < 7 {
			return Packet{}, fmt.Errorf("%w: truncated timestamp", ErrMalformedPacket)
		}
		ts, err := parseAPRSTimestamp(body[:7], reference)
		if err != nil {
			return Packet{}, err
		}
		packet.Time = ts
		body = body[7:]
	default:
		return Packet{}, fmt.Errorf("%w: data type %q", ErrUnsupportedFormat, frame.Info[0])
	}

	if len(body) == 0 {
		return Packet{}, fmt.Errorf("%w: position missing", ErrMalformedPacket)
	}

	var comment string
	switch {
	case body[0] >= '0' && body[0] <= '9':
		comment, err = parseUncompressed(body, &packet)
	case isCompressedTable(body[0]):
		comment, err = parseCompressed(body, &packet)
	default:
		return Packet{}, fmt.Errorf("%w: bad position %q", ErrMalformedPacket, body)
	}
	if err != nil {
		return Packet{}, err
	}

	if m := altitudePattern.FindStringSubmatch(comment); m != nil {
		feet, _ := strconv.Atoi(m[1])
		packet.Altitude = Meters(float64(feet) * FeetToMeters)
		comment = strings.Replace(comment, m[0], "", 1)
	}
	packet.Comment = strings.TrimSpace(comment)

	if !packet.Position.Valid() {
		return Packet{}, fmt.Errorf("%w: coordinate out of range %s", ErrMalformedPacket, packet.Position)
	}
	return packet, nil
}

// parseUncompressed decodes `DDMM.mmN/DDDMM.mmW$` and returns the remainder.
func parseUncompressed(body string, packet *Packet) (string, error) {
	if len(body) < 19 {
		return "", fmt.Errorf("%w: truncated uncompressed position", ErrMalformedPacket)
	}
	lat, err := parseDegreesMinutes(body[0:7], 2)
	if err != nil {
		return "", err
	}
	switch body[7] {
	case 'N', 'n':
	case 'S', 's':
		lat = -lat
	default:
		return "", fmt.Errorf("%w: bad latitude hemisphere %q", ErrMalformedPacket, body[7])
	}
	table := body[8]
	lon, err := parseDegreesMinutes(body[9:17], 3)
	if err != nil {
		return "", err
	}
	switch body[17] {
	case 'E', 'e':
	case 'W', 'w':
		lon = -lon
	default:
		return "", fmt.Errorf("%w: bad longitude hemisphere %q", ErrMalformedPacket, body[17])
	}
	packet.Position = Coordinate{Longitude: lon, Latitude: lat}
	packet.Symbol = string([]byte{table, body[18]})
	return body[19:], nil
}

// parseDegreesMinutes decodes DDMM.mm / DDDMM.mm. Ambiguity spaces count as zero.
func parseDegreesMinutes(s string, degreeDigits int) (float64, error) {
	s = strings.ReplaceAll(s, " ", "0")
	dot := degreeDigits + 2
	if len(s) < dot+2 || s[dot] != '.' || !allDigits(s[:dot]) || !allDigits(s[dot+1:]) {
		return 0, fmt.Errorf("%w: bad coordinate %q", ErrMalformedPacket, s)
	}
	deg, err := strconv.Atoi(s[:degreeDigits])
	if err != nil {
		return 0, fmt.Errorf("%w: bad coordinate %q", ErrMalformedPacket, s)
	}
	minutes, err := strconv.ParseFloat(s[degreeDigits:], 64)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("%w: bad coordinate %q", ErrMalformedPacket, s)
	}
	return float64(deg) + minutes/60, nil
}

// isCompressedTable reports whether c can open a compressed position: the
// symbol table id or an overlay character.
func isCompressedTable(c byte) bool {
	return c == '/' || c == '\\' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'j')
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseCompressed decodes the 13-byte base-91 compressed position and returns the remainder.
func parseCompressed(body string, packet *Packet) (string, error) {
	if len(body) < 10 {
		return "", fmt.Errorf("%w: truncated compressed position", ErrMalformedPacket)
	}
	lat, err := decodeBase91(body[1:5])
	if err != nil {
		return "", err
	}
	lon, err := decodeBase91(body[5:9])
	if err != nil {
		return "", err
	}
	packet.Position = Coordinate{
		Longitude: -180 + float64(lon)/190463,
		Latitude:  90 - float64(lat)/380926,
	}
	packet.Symbol = string([]byte{body[0], body[9]})

	rest := body[10:]
	if len(rest) >= 3 {
		cs := rest[0:2]
		compressionType := int(rest[2]) - 33
		if cs[0] != ' ' && compressionType >= 0 && compressionType&0x18 == 0x10 {
			exponent := (int(cs[0])-33)*91 + (int(cs[1]) - 33)
			packet.Altitude = Meters(math.Pow(1.002, float64(exponent)) * FeetToMeters)
		}
		rest = rest[3:]
	}
	return rest, nil
}

func decodeBase91(s string) (int, error) {
	value := 0
	for i := 0; i < len(s); i++ {
		c := int(s[i]) - 33
		if c < 0 || c > 90 {
			return 0, fmt.Errorf("%w: invalid base-91 character %q", ErrMalformedPacket, s[i])
		}
		value = value*91 + c
	}
	return value, nil
}

// parseAPRSTimestamp decodes DDHHMMz, DDHHMM/ and HHMMSSh timestamps.
// Day/hour/minute forms take month and year from reference and roll back a
// month when that would put the packet more than a day in the future;
// HHMMSS rolls back a day when more than an hour in the future.
func parseAPRSTimestamp(s string, reference time.Time) (time.Time, error) {
	if reference.IsZero() {
		reference = time.Now()
	}
	if !allDigits(s[:6]) {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPacket, s)
	}
	a, errA := strconv.Atoi(s[0:2])
	b, errB := strconv.Atoi(s[2:4])
	c, errC := strconv.Atoi(s[4:6])
	if errA != nil || errB != nil || errC != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPacket, s)
	}

	switch s[6] {
	case 'z', '/':
		loc := time.UTC
		if s[6] == '/' {
			loc = reference.Location()
		}
		ref := reference.In(loc)
		if a < 1 || a > 31 || b > 23 || c > 59 {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPacket, s)
		}
		t := time.Date(ref.Year(), ref.Month(), a, b, c, 0, 0, loc)
		if t.After(ref.Add(24 * time.Hour)) {
			t = time.Date(ref.Year(), ref.Month()-1, a, b, c, 0, 0, loc)
		}
		return t, nil
	case 'h':
		if a > 23 || b > 59 || c > 59 {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPacket, s)
		}
		ref := reference.UTC()
		t := time.Date(ref.Year(), ref.Month(), ref.Day(), a, b, c, 0, time.UTC)
		if t.After(ref.Add(time.Hour)) {
			t = t.AddDate(0, 0, -1)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown timestamp format %q", ErrMalformedPacket, s)
	}
}
