// Package prediction queries the Tawhiri balloon flight predictor hosted by
// SondeHub for landing predictions.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/balloonscope/pkg/coordinates"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// DefaultURL is the public Tawhiri instance.
const DefaultURL = "https://api.v2.sondehub.org/tawhiri"

const (
	profileStandard = "standard_profile"
	profileFloat    = "float_profile"

	stageAscent  = "ascent"
	stageFloat   = "float"
	stageDescent = "descent"
)

var (
	// ErrNoDescentStage is returned when a descent-only query yields no descent.
	ErrNoDescentStage = fmt.Errorf("%w: API did not return a descent stage", tracking.ErrPredictionResponseMalformed)

	// ErrNoFloatStage is returned when a float profile yields neither a float
	// nor a descent stage.
	ErrNoFloatStage = fmt.Errorf("%w: API did not return a float stage", tracking.ErrPredictionResponseMalformed)
)

// APIError is an error body returned by Tawhiri.
type APIError struct {
	Status      int
	Type        string
	Description string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("HTTP error %d - %s: %s", e.Status, e.Type, e.Description)
	}
	return fmt.Sprintf("HTTP error %d - %s", e.Status, e.Description)
}

// Config configures a Client.
type Config struct {
	// BaseURL of the Tawhiri API (default DefaultURL)
	BaseURL string

	// Timeout for a single HTTP request (default 30s)
	Timeout time.Duration

	// RequestsPerHour limits the query rate; 0 means unlimited
	RequestsPerHour int

	// Dataset pins the wind dataset; zero uses the latest
	Dataset time.Time

	// Retry policy for transient failures
	Retry telemetry.RetryConfig
}

// Client implements tracking.PredictionClient against Tawhiri.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      telemetry.RetryConfig
	dataset    time.Time
}

// NewClient creates a Tawhiri client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = telemetry.DefaultRetryConfig()
	}
	cfg.Retry.Retryable = retryable

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.RequestsPerHour)), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		retry:   cfg.Retry,
		dataset: cfg.Dataset,
	}
}

// retryable retries network failures, rate limiting and server errors, but
// never a request Tawhiri rejected or a response it cannot be made to parse.
func retryable(err error) bool {
	if errors.Is(err, tracking.ErrPredictionResponseMalformed) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}

// Predict requests a flight path for req. With req.DescentOnly only the
// descent from the start point is returned.
func (c *Client) Predict(ctx context.Context, req tracking.PredictionRequest) ([]tracking.Sample, error) {
	resp, err := c.query(ctx, req.Start, req.Profile, req.DescentOnly)
	if err != nil {
		return nil, err
	}

	if resp.Request.Profile == profileFloat && !resp.hasStage(stageDescent) {
		float, ok := resp.stage(stageFloat)
		if !ok || len(float.Trajectory) == 0 {
			return nil, ErrNoFloatStage
		}
		end, err := float.Trajectory[len(float.Trajectory)-1].sample()
		if err != nil {
			return nil, err
		}
		descent, err := c.query(ctx, end, tracking.Profile{
			AscentRate:          10,
			BurstAltitude:       end.Altitude,
			SeaLevelDescentRate: req.Profile.SeaLevelDescentRate,
		}, true)
		if err != nil {
			return nil, fmt.Errorf("failed to query descent from float: %w", err)
		}
		d, _ := descent.stage(stageDescent)
		resp.Prediction = append(resp.Prediction, d)
	}

	var samples []tracking.Sample
	for _, st := range resp.Prediction {
		for _, pt := range st.Trajectory {
			s, err := pt.sample()
			if err != nil {
				return nil, err
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// query performs one Tawhiri request. A descent-only response is reduced to
// its descent stage.
func (c *Client) query(ctx context.Context, start tracking.Sample, profile tracking.Profile, descentOnly bool) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("prediction rate limit: %w", err)
	}

	target := c.URL(start, profile, descentOnly)
	resp, err := telemetry.RetryWithBackoffResult(ctx, c.retry, func() (*response, error) {
		return c.get(ctx, target)
	})
	if err != nil {
		return nil, err
	}

	if descentOnly {
		descent, ok := resp.stage(stageDescent)
		if !ok {
			return nil, ErrNoDescentStage
		}
		resp.Prediction = []stage{descent}
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, target string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", telemetry.UserAgent)
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach prediction API: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: httpResp.StatusCode}
		var envelope errorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Description != "" {
			apiErr.Type = envelope.Error.Type
			apiErr.Description = envelope.Error.Description
		} else {
			apiErr.Description = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", tracking.ErrPredictionResponseMalformed, err)
	}
	return &resp, nil
}

// URL builds the query for a prediction from start under profile.
func (c *Client) URL(start tracking.Sample, profile tracking.Profile, descentOnly bool) string {
	burst := profile.BurstAltitude
	if descentOnly {
		burst = start.Altitude + 0.1
	}

	q := url.Values{}
	q.Set("launch_latitude", formatFloat(start.Position.Latitude))
	q.Set("launch_longitude", formatFloat(coordinates.Longitude360(start.Position.Longitude)))
	q.Set("launch_datetime", start.Time.UTC().Format(time.RFC3339))
	q.Set("launch_altitude", formatFloat(start.Altitude))
	q.Set("ascent_rate", formatFloat(profile.AscentRate))
	q.Set("burst_altitude", formatFloat(burst))
	q.Set("descent_rate", formatFloat(profile.SeaLevelDescentRate))
	if !c.dataset.IsZero() {
		q.Set("dataset", c.dataset.UTC().Format(time.RFC3339))
	}

	if profile.Float != nil && !descentOnly {
		floatAltitude := profile.Float.Altitude
		climb := max(floatAltitude-start.Altitude, 0) / profile.AscentRate
		floatStart := start.Time.Add(time.Duration(climb * float64(time.Second)))
		q.Set("profile", profileFloat)
		q.Set("float_altitude", formatFloat(floatAltitude))
		q.Set("stop_datetime", floatStart.Add(profile.Float.Duration).UTC().Format(time.RFC3339))
	} else {
		q.Set("profile", profileStandard)
	}

	return c.baseURL + "?" + q.Encode()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type response struct {
	Metadata struct {
		StartDatetime    string `json:"start_datetime"`
		CompleteDatetime string `json:"complete_datetime"`
	} `json:"metadata"`
	Request struct {
		Profile string `json:"profile"`
		Dataset string `json:"dataset"`
	} `json:"request"`
	Prediction []stage         `json:"prediction"`
	Warnings   map[string]any `json:"warnings"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"error"`
}

type stage struct {
	Stage      string  `json:"stage"`
	Trajectory []point `json:"trajectory"`
}

type point struct {
	Altitude  float64 `json:"altitude"`
	Datetime  string  `json:"datetime"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (r *response) stage(name string) (stage, bool) {
	for _, s := range r.Prediction {
		if s.Stage == name {
			return s, true
		}
	}
	return stage{}, false
}

func (r *response) hasStage(name string) bool {
	_, ok := r.stage(name)
	return ok
}

// sample converts a trajectory point, mapping Tawhiri's 0-360 longitudes
// back to -180..180.
func (p point) sample() (tracking.Sample, error) {
	ts, err := time.Parse(time.RFC3339, p.Datetime)
	if err != nil {
		return tracking.Sample{}, fmt.Errorf("%w: bad datetime %q", tracking.ErrPredictionResponseMalformed, p.Datetime)
	}
	return tracking.Sample{
		Time:     ts,
		Position: telemetry.Coordinate{Latitude: p.Latitude, Longitude: coordinates.Longitude180(p.Longitude)},
		Altitude: p.Altitude,
	}, nil
}
