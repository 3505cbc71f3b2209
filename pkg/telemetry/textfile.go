package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// lineTimeLayouts are the timestamp prefixes accepted in APRS log files.
var lineTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
}

// TextFileSource watches a log of raw APRS frames, one per line, each either
// `TIMESTAMP: FRAME` or a bare frame. Local files are tailed from the last
// read offset; http(s) locations are re-fetched and deduplicated by line.
type TextFileSource struct {
	location  string
	remote    bool
	callsigns map[string]bool

	httpClient *http.Client
	offset     int64
	partial    []byte
	seen       map[string]struct{}
	malformed  int
}

// NewTextFileSource creates a source for a local path or an http(s) URL.
func NewTextFileSource(location string, callsigns []string) (*TextFileSource, error) {
	location = strings.Trim(strings.TrimSpace(location), `"`)
	if location == "" {
		return nil, sourceError("text", FailedToEstablish, fmt.Errorf("no file given"))
	}
	s := &TextFileSource{
		location:  location,
		callsigns: callsignSet(callsigns),
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		s.remote = true
		s.httpClient = &http.Client{Timeout: 10 * time.Second}
		s.seen = make(map[string]struct{})
	} else {
		abs, err := filepath.Abs(expandHome(location))
		if err == nil {
			s.location = abs
		}
	}
	return s, nil
}

// Name implements Source.
func (s *TextFileSource) Name() string { return s.location }

// Close implements Source.
func (s *TextFileSource) Close() error { return nil }

// Malformed returns the number of lines that could not be parsed so far.
func (s *TextFileSource) Malformed() int { return s.malformed }

// Drain implements Source.
func (s *TextFileSource) Drain(ctx context.Context) ([]Packet, error) {
	var lines []string
	var err error
	if s.remote {
		lines, err = s.fetchRemote(ctx)
	} else {
		lines, err = s.readNew()
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	packets := make([]Packet, 0, len(lines))
	var bad MalformedLines
	for _, line := range lines {
		packet, err := ParseLogLine(line, now)
		if err != nil {
			s.malformed++
			bad.add(line)
			continue
		}
		if len(s.callsigns) > 0 && !s.callsigns[packet.Callsign] {
			continue
		}
		packet.Source = s.location
		packets = append(packets, packet)
	}
	return packets, malformedError(s.location, &bad)
}

// ParseLogLine decodes `TIMESTAMP: FRAME` or a bare frame. The received time
// stamps frames that carry neither a line timestamp nor an APRS timestamp.
func ParseLogLine(line string, received time.Time) (Packet, error) {
	line = strings.TrimSpace(line)
	if prefix, frame, ok := strings.Cut(line, ": "); ok {
		if t, ok := parseLineTime(prefix); ok {
			packet, err := ParseAPRSFrame(strings.TrimSpace(frame), t)
			if err != nil {
				return Packet{}, err
			}
			packet.Received = received
			return packet, nil
		}
	}
	return ParseAPRSFrame(line, received)
}

func parseLineTime(s string) (time.Time, bool) {
	for _, layout := range lineTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// readNew returns complete lines appended since the previous call. A
// truncated or replaced file is read again from the start.
func (s *TextFileSource) readNew() ([]string, error) {
	f, err := os.Open(s.location)
	if err != nil {
		return nil, sourceError(s.location, FailedToEstablish, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, sourceError(s.location, ReadFailure, err)
	}
	if info.Size() < s.offset {
		s.offset = 0
		s.partial = nil
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, sourceError(s.location, ReadFailure, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, sourceError(s.location, ReadFailure, err)
	}
	s.offset += int64(len(data))

	data = append(s.partial, data...)
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		s.partial = data
		return nil, nil
	}
	s.partial = append([]byte(nil), data[last+1:]...)
	return splitLines(data[:last+1]), nil
}

func (s *TextFileSource) fetchRemote(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, sourceError(s.location, FailedToEstablish, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, sourceError(s.location, FailedToEstablish, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, sourceError(s.location, APIFailure, fmt.Errorf("status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sourceError(s.location, ReadFailure, err)
	}

	var fresh []string
	for _, line := range splitLines(data) {
		if _, ok := s.seen[line]; ok {
			continue
		}
		s.seen[line] = struct{}{}
		fresh = append(fresh, line)
	}
	return fresh, nil
}

// splitLines returns the non-blank lines of data. Lines have no length
// limit; the whole file is already in memory.
func splitLines(data []byte) []string {
	var lines []string
	for raw := range bytes.SplitSeq(data, []byte{'\n'}) {
		if line := strings.TrimSpace(string(raw)); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
