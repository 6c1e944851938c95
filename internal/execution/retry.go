package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/pkg/retry"
)

// RetryConfig is the Job-Execution Workflow's activity retry policy (§4.6):
// initial 1s, max interval 30s, maximum 3 attempts, 10% jitter.
type RetryConfig = retry.Config

// DefaultRetryConfig is §4.6's stated policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     3,
		Multiplier:      2.0,
		JitterFraction:  0.1,
	}
}

// nonRetriable reports whether err is one of the three failures §4.6 names
// as non-retriable: "job not found", "invalid credentials", "agent not found".
func nonRetriable(err error) bool {
	return errors.Is(err, core.ErrJobNotFound) ||
		errors.Is(err, core.ErrInvalidCredentials) ||
		errors.Is(err, core.ErrAgentNotFound)
}

// retryWithBackoff runs fn up to cfg.MaxAttempts times with exponential
// backoff and jitter, stopping early on a non-retriable error or context
// cancellation.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, log *slog.Logger, fn func() error) error {
	_, err := retry.Do(ctx, cfg, log, nonRetriable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
