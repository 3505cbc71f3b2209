package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseAPRSFrame(t *testing.T) {
	reference := time.Date(2019, 2, 3, 14, 36, 16, 0, time.UTC)

	t.Run("Compressed position with altitude", func(t *testing.T) {
		raw := "W3EAX-8>APRS,WIDE1-1,WIDE2-1,qAR,K3DO-11:!/:Gh=:j)#O   /A=026909|!Q|  /W3EAX,262,0,18'C,http://www.umd.edu"

		packet, err := ParseAPRSFrame(raw, reference)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if packet.Callsign != "W3EAX-8" {
			t.Errorf("Expected callsign W3EAX-8, got %s", packet.Callsign)
		}
		if math.Abs(packet.Position.Longitude-(-77.90921071284187)) > 1e-9 {
			t.Errorf("Expected longitude -77.90921071284187, got %v", packet.Position.Longitude)
		}
		if math.Abs(packet.Position.Latitude-39.7003564996876) > 1e-9 {
			t.Errorf("Expected latitude 39.7003564996876, got %v", packet.Position.Latitude)
		}
		if !packet.Altitude.Valid || math.Abs(packet.Altitude.Meters-8201.8632) > 1e-6 {
			t.Errorf("Expected altitude 8201.8632, got %v", packet.Altitude)
		}
		if packet.Comment != "|!Q|  /W3EAX,262,0,18'C,http://www.umd.edu" {
			t.Errorf("Unexpected comment: %q", packet.Comment)
		}
		if packet.Symbol != "/O" {
			t.Errorf("Expected symbol /O, got %q", packet.Symbol)
		}
		if !packet.Time.Equal(reference) {
			t.Errorf("Expected reference time for untimestamped packet, got %v", packet.Time)
		}
		if packet.Raw != raw {
			t.Error("Expected raw frame to be preserved")
		}
	})

	t.Run("Uncompressed position", func(t *testing.T) {
		packet, err := ParseAPRSFrame("N0CALL-11>APRS,TCPIP*:!4903.50N/07201.75W-Test 001234", reference)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if math.Abs(packet.Position.Latitude-49.058333) > 1e-5 {
			t.Errorf("Expected latitude 49.058333, got %v", packet.Position.Latitude)
		}
		if math.Abs(packet.Position.Longitude-(-72.029167)) > 1e-5 {
			t.Errorf("Expected longitude -72.029167, got %v", packet.Position.Longitude)
		}
		if packet.Altitude.Valid {
			t.Errorf("Expected no altitude, got %v", packet.Altitude)
		}
		if packet.Comment != "Test 001234" {
			t.Errorf("Expected comment 'Test 001234', got %q", packet.Comment)
		}
	})

	t.Run("Uncompressed position with timestamp and altitude", func(t *testing.T) {
		packet, err := ParseAPRSFrame("KC3SKW-9>APRS:/031425z3859.11S/07656.54E>/A=001000 hello", reference)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		expected := time.Date(2019, 2, 3, 14, 25, 0, 0, time.UTC)
		if !packet.Time.Equal(expected) {
			t.Errorf("Expected time %v, got %v", expected, packet.Time)
		}
		if packet.Position.Latitude >= 0 || packet.Position.Longitude <= 0 {
			t.Errorf("Expected southern/eastern hemisphere, got %v", packet.Position)
		}
		if math.Abs(packet.Altitude.Meters-304.8) > 1e-9 {
			t.Errorf("Expected altitude 304.8, got %v", packet.Altitude.Meters)
		}
		if packet.Comment != "hello" {
			t.Errorf("Expected comment 'hello', got %q", packet.Comment)
		}
	})

	t.Run("Partial packets are malformed", func(t *testing.T) {
		for _, raw := range []string{
			"W3EAX-8>APRS,WIDE1-1,WIDE2-1,qAR,KM4LKM",
			"W3EAX-8>APRS,WIDE1-1,WIDE2-1,qAR,K3DO-11:!/:",
			">APRS:!4903.50N/07201.75W-",
			"W3EAX-8>APRS:!4903.50X/07201.75W-",
			"W3EAX-8>APRS:!-158.00N/07753.00WO",
			"W3EAX-8>APRS:!3958.00N/-7753.00WO",
			"W3EAX-8>APRS:!39-1.00N/07753.00WO",
			"W3EAX-8>APRS:!#:Gh=:j)#O   /A=026909",
			"W3EAX-8>APRS:/-1-1-1h4903.50N/07201.75WO",
		} {
			_, err := ParseAPRSFrame(raw, reference)
			if !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("Expected ErrMalformedPacket for %q, got %v", raw, err)
			}
		}
	})

	t.Run("Mic-E is unsupported", func(t *testing.T) {
		_, err := ParseAPRSFrame("N0CALL>T2SP0W:`c_Vm6hk/`\"49}_%", reference)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
		}
	})
}

func TestParseAPRSTimestamp(t *testing.T) {
	reference := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{"DHM zulu same month", "010015z", time.Date(2024, 3, 1, 0, 15, 0, 0, time.UTC)},
		{"DHM zulu previous month", "291200z", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)},
		{"HMS same day", "002000h", time.Date(2024, 3, 1, 0, 20, 0, 0, time.UTC)},
		{"HMS previous day", "235959h", time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAPRSTimestamp(tt.input, reference)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}

	for _, input := range []string{"991299z", "-1-1-1h", "+10000z", "01 015z"} {
		if _, err := parseAPRSTimestamp(input, reference); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("Expected ErrMalformedPacket for %q, got %v", input, err)
		}
	}
}
