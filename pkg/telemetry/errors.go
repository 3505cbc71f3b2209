package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrMalformedPacket marks input that could not be turned into a Packet:
	// unparseable frames, missing callsigns, out-of-range coordinates.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrSourceUnavailable marks a source that could not be read this tick.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUnsupportedFormat marks a well-formed frame whose format we do not decode.
	ErrUnsupportedFormat = errors.New("unsupported packet format")
)

// FailureKind classifies why a source could not be drained.
type FailureKind int

const (
	// ReadFailure means the source was reachable but reading it failed
	ReadFailure FailureKind = iota

	// TooFrequent means the source was polled faster than it allows
	TooFrequent

	// APIFailure means a remote API answered with an error
	APIFailure

	// FailedToEstablish means the connection could not be opened
	FailedToEstablish

	// MalformedInput means the source was read but some lines did not
	// parse; the packets that did parse are still returned
	MalformedInput
)

func (k FailureKind) String() string {
	switch k {
	case ReadFailure:
		return "read failure"
	case TooFrequent:
		return "too frequent"
	case APIFailure:
		return "api error"
	case FailedToEstablish:
		return "failed to establish"
	case MalformedInput:
		return "malformed input"
	default:
		return "unknown"
	}
}

// SourceError reports a failed drain. It matches ErrSourceUnavailable with
// errors.Is and unwraps to the underlying cause. A MalformedInput error does
// not mark the source unavailable and unwraps to its cause only.
type SourceError struct {
	Source string
	Kind   FailureKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Kind == MalformedInput {
		if e.Err == nil {
			return []error{ErrMalformedPacket}
		}
		return []error{e.Err}
	}
	if e.Err == nil {
		return []error{ErrSourceUnavailable}
	}
	return []error{ErrSourceUnavailable, e.Err}
}

func sourceError(source string, kind FailureKind, err error) error {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// maxMalformedSamples bounds the raw lines kept on a MalformedLines error.
const maxMalformedSamples = 3

// maxSampleLength truncates a kept raw line.
const maxSampleLength = 200

// MalformedLines counts the lines of one drain that did not parse and
// keeps the first few of them. It matches ErrMalformedPacket.
type MalformedLines struct {
	Count   int
	Samples []string
}

func (e *MalformedLines) Error() string {
	if len(e.Samples) == 0 {
		return fmt.Sprintf("%d malformed lines", e.Count)
	}
	return fmt.Sprintf("%d malformed lines, first %q", e.Count, e.Samples[0])
}

func (e *MalformedLines) Is(target error) bool { return target == ErrMalformedPacket }

// add records one unparseable line.
func (e *MalformedLines) add(line string) {
	e.Count++
	if len(e.Samples) < maxMalformedSamples {
		if len(line) > maxSampleLength {
			line = line[:maxSampleLength]
		}
		e.Samples = append(e.Samples, line)
	}
}

// malformedError returns nil when nothing was recorded.
func malformedError(source string, lines *MalformedLines) error {
	if lines == nil || lines.Count == 0 {
		return nil
	}
	return &SourceError{Source: source, Kind: MalformedInput, Err: lines}
}

// RateLimitError represents an HTTP 429 rate limit error with retry information.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
}

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Limit     int       // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int       // X-Rate-Limit-Remaining: Requests remaining in current window
	Reset     time.Time // X-Rate-Limit-Reset: When the rate limit resets
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is, or wraps, a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// newRateLimitError builds a RateLimitError from a 429 response.
func newRateLimitError(resp *http.Response) *RateLimitError {
	return &RateLimitError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header),
		Message:    "Rate limit exceeded",
		Headers:    extractRateLimitHeaders(resp.Header),
	}
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if header is not present.
// Supports both delay-seconds (integer) and HTTP-date formats.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}

// extractRateLimitHeaders extracts common rate limit headers from the response.
// Both the X-Rate-Limit-* and X-RateLimit-* spellings are recognised.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{
		Limit:     -1,
		Remaining: -1,
	}

	header := func(name string) string {
		if v := headers.Get("X-Rate-Limit-" + name); v != "" {
			return v
		}
		return headers.Get("X-RateLimit-" + name)
	}

	if val, err := strconv.Atoi(header("Limit")); err == nil {
		rlh.Limit = val
	}
	if val, err := strconv.Atoi(header("Remaining")); err == nil {
		rlh.Remaining = val
	}
	if ts, err := strconv.ParseInt(header("Reset"), 10, 64); err == nil {
		rlh.Reset = time.Unix(ts, 0)
	}

	return rlh
}
