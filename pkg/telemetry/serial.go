package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the usual speed of APRS TNCs in KISS-less text mode.
const DefaultBaudRate = 9600

// PortOptions describes the serial connection parameters of a TNC.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// portOpener opens the underlying byte stream; replaced in tests.
type portOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

func openSerialPort(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// SerialSource reads TNC2 text frames from a serial-attached TNC.
//
// A background goroutine reads lines as they arrive and buffers parsed
// packets; Drain hands over the buffer without blocking on the port. A read
// error is reported by the next Drain, and the drain after that reopens the port.
type SerialSource struct {
	path      string
	mode      *serial.Mode
	open      portOpener
	callsigns map[string]bool

	mu        sync.Mutex
	port      io.ReadCloser
	buffer    []Packet
	readErr   error
	malformed int
	pending   MalformedLines
	closed    bool
}

// ResolveSerialPort returns path, or the first port reported by the system
// when path is empty or "auto".
func ResolveSerialPort(path string) (string, error) {
	if path != "" && !strings.EqualFold(path, "auto") {
		return path, nil
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	return ports[len(ports)-1], nil
}

// NewSerialSource prepares a serial source. The port is opened on the first Drain.
// callsigns, when non-empty, restricts which payloads are kept.
func NewSerialSource(path string, opts PortOptions, callsigns []string) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	resolved, err := ResolveSerialPort(path)
	if err != nil {
		return nil, sourceError("serial", FailedToEstablish, err)
	}
	return &SerialSource{
		path:      resolved,
		mode:      mode,
		open:      openSerialPort,
		callsigns: callsignSet(callsigns),
	}, nil
}

// Name implements Source.
func (s *SerialSource) Name() string { return "serial:" + s.path }

// Drain implements Source.
func (s *SerialSource) Drain(ctx context.Context) ([]Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sourceError(s.Name(), FailedToEstablish, errors.New("source closed"))
	}

	packets := s.buffer
	s.buffer = nil

	if s.readErr != nil {
		err := s.readErr
		s.readErr = nil
		return packets, sourceError(s.Name(), ReadFailure, err)
	}

	if s.port == nil {
		port, err := s.open(s.path, s.mode)
		if err != nil {
			return packets, sourceError(s.Name(), FailedToEstablish, fmt.Errorf("failed to open %s: %w", s.path, err))
		}
		s.port = port
		go s.readLoop(port)
	}

	if s.pending.Count > 0 {
		bad := s.pending
		s.pending = MalformedLines{}
		return packets, malformedError(s.Name(), &bad)
	}
	return packets, nil
}

// Malformed returns how many lines failed to parse since the source opened.
func (s *SerialSource) Malformed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

func (s *SerialSource) readLoop(port io.ReadCloser) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		now := time.Now()
		packet, err := ParseAPRSFrame(line, now)

		s.mu.Lock()
		if err != nil {
			s.malformed++
			s.pending.add(line)
		} else if len(s.callsigns) == 0 || s.callsigns[packet.Callsign] {
			packet.Source = s.Name()
			s.buffer = append(s.buffer, packet)
		}
		s.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == port {
		port.Close()
		s.port = nil
		if !s.closed {
			s.readErr = err
		}
	}
}

// Close implements Source.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.port == nil {
		return nil
	}
	port := s.port
	s.port = nil
	return port.Close()
}

func callsignSet(callsigns []string) map[string]bool {
	if len(callsigns) == 0 {
		return nil
	}
	set := make(map[string]bool, len(callsigns))
	for _, c := range callsigns {
		set[NormalizeCallsign(c)] = true
	}
	return set
}
