package db

import (
	"context"
	"strings"
	"time"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/config"
)

// ReconnectWithRetry attempts to connect to the database with exponential backoff.
// This provides resilience against temporary database outages.
//
// Parameters:
//   - ctx: cancels the retry loop
//   - cfg: Database configuration
//   - maxRetries: Maximum number of connection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, log logging.Logger) (*DB, error) {
	if log == nil {
		log = logging.Noop()
	}
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		db, err := Connect(cfg)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "database reconnected", logging.Int("attempt", attempt))
			}
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.Error(ctx, "database connection failed", logging.Int("attempts", attempt), logging.Err(err))
			return nil, err
		}

		log.Warn(ctx, "database connection failed, retrying",
			logging.Int("attempt", attempt), logging.Duration("retry_in", delay), logging.Err(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// connErrors are substrings of driver errors caused by a lost connection.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"database is locked",
	"eof",
	"timeout",
}

// isConnError reports whether err looks like a transient connection failure.
func isConnError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry executes a database operation with automatic retry on connection failures.
// Other errors are returned immediately.
func WithRetry(ctx context.Context, operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			return err
		}

		if attempt < maxRetries {
			timer := time.NewTimer(time.Duration(attempt+1) * 100 * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
		}
	}

	return lastErr
}
