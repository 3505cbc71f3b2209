package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 2)
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 500ms)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 5 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64

	// RespectRetryAfter uses Retry-After header if available (default: true)
	RespectRetryAfter bool

	// Retryable decides whether an error is worth another attempt.
	// nil retries every error.
	Retryable func(error) bool
}

// DefaultRetryConfig returns defaults sized to fit inside a single poll tick.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		Multiplier:        2.0,
		RespectRetryAfter: true,
		Retryable:         isTransient,
	}
}

// isTransient treats everything except API-level refusals as retryable.
func isTransient(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind != APIFailure && se.Kind != TooFrequent
	}
	return true
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
// It handles rate limit errors (HTTP 429) specially by respecting Retry-After headers.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithBackoffResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithBackoffResult executes a function with exponential backoff and returns a result.
//
// Example usage:
//
//	packets, err := RetryWithBackoffResult(ctx, DefaultRetryConfig(), func() ([]Packet, error) {
//	    return s.fetch(ctx)
//	})
func RetryWithBackoffResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}

		result = res
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return result, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		// delay = min(InitialDelay * Multiplier^attempt, MaxDelay)
		nextDelay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
		if nextDelay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		} else {
			delay = nextDelay
		}

		if rle, ok := IsRateLimitError(err); ok && cfg.RespectRetryAfter && rle.RetryAfter > 0 {
			delay = rle.RetryAfter
		}
	}

	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
