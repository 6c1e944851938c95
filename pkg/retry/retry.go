// Package retry provides the exponential-backoff-with-jitter retry helper
// shared by the Dispatch Workflow's activity calls and the Job-Execution
// Workflow's step retries, grounded on the teacher's pkg/worker/retry.go.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Config mirrors the teacher's pkg/worker/retry.go RetryConfig shape:
// initial/max backoff, a multiplier applied after every failed attempt,
// and a jitter fraction randomizing each sleep.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFraction  float64
}

// Do runs fn up to cfg.MaxAttempts times with exponential backoff and
// jitter, stopping early when stop(err) reports true or the context is
// cancelled. log may be nil to suppress retry-attempt warnings.
func Do[T any](ctx context.Context, cfg Config, log *slog.Logger, stop func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	backoff := cfg.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if stop != nil && stop(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if log != nil {
			log.Warn("activity failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jittered(backoff, cfg.JitterFraction)):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
		}
	}
	return zero, lastErr
}

// jittered randomizes backoff by +/- fraction, matching the teacher's
// "backoff + backoff*fraction*(rand*2-1)" formula.
func jittered(backoff time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return backoff
	}
	jitter := time.Duration(float64(backoff) * fraction * (rand.Float64()*2 - 1))
	sleep := backoff + jitter
	if sleep < 0 {
		return backoff
	}
	return sleep
}
