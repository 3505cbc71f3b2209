package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// UserAgent is sent with every HTTP request made by the sources.
const UserAgent = "balloonscope/1.0"

// MinimumAccessInterval is the shortest interval aprs.fi and SondeHub tolerate
// between queries from one client.
const MinimumAccessInterval = 10 * time.Second

// httpPoller holds what the HTTP-backed sources share: a client, an access
// limiter and the retry policy.
type httpPoller struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

func newHTTPPoller(name string, minInterval time.Duration) httpPoller {
	if minInterval <= 0 {
		minInterval = MinimumAccessInterval
	}
	return httpPoller{
		name: name,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		retry:   DefaultRetryConfig(),
	}
}

// admit consumes an access token, reporting TooFrequent when the source was
// polled again before its minimum interval elapsed.
func (h *httpPoller) admit(now time.Time) error {
	if !h.limiter.AllowN(now, 1) {
		return sourceError(h.name, TooFrequent,
			fmt.Errorf("minimum access interval is %v", time.Duration(float64(time.Second)/float64(h.limiter.Limit()))))
	}
	return nil
}

// getJSON performs a GET request and decodes a JSON body into v, retrying
// transient failures within ctx.
func (h *httpPoller) getJSON(ctx context.Context, url string, v any) error {
	return RetryWithBackoff(ctx, h.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return sourceError(h.name, FailedToEstablish, err)
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := h.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return sourceError(h.name, ReadFailure, err)
			}
			return sourceError(h.name, FailedToEstablish, fmt.Errorf("failed to reach %s: %w", redact(url), err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return sourceError(h.name, APIFailure, newRateLimitError(resp))
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return sourceError(h.name, APIFailure,
				fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return sourceError(h.name, ReadFailure, fmt.Errorf("failed to parse API response: %w", err))
		}
		return nil
	})
}

// redact hides API keys embedded in query strings.
func redact(url string) string {
	if i := strings.Index(url, "apikey="); i >= 0 {
		end := strings.IndexByte(url[i:], '&')
		if end < 0 {
			return url[:i] + "apikey=****"
		}
		return url[:i] + "apikey=****" + url[i+end:]
	}
	return url
}
