package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/quarry-io/quarry/internal/errs"
)

// DefaultTimeout is the default per-resource stabilization timeout.
const DefaultTimeout = 30 * time.Minute

// DefaultRetryMax is the default maximum number of retries for transient
// provider errors.
const DefaultRetryMax = 3

// DefaultPollInterval is how often the engine polls a provider for a
// resource's readiness.
const DefaultPollInterval = 2 * time.Second

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter. Only
// errors reported transient by errs.IsTransient are retried; provider
// validation errors surface immediately.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !errs.IsTransient(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := calculateBackoff(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// calculateBackoff returns exponential backoff with jitter.
func calculateBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := rand.Float64() * backoff
	return time.Duration(jitter)
}

// stepTimeout resolves the per-resource timeout, falling back to the
// engine-wide default.
func stepTimeout(declared string, fallback time.Duration) time.Duration {
	if declared != "" {
		if d, err := time.ParseDuration(declared); err == nil && d > 0 {
			return d
		}
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}
