// Package retry wraps idempotent storage calls in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/metrics"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a component is built without one.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// NoRetry runs an operation exactly once.
var NoRetry = Policy{MaxAttempts: 1}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// budget is spent. Domain errors and context cancellation are never retried.
func Do(ctx context.Context, policy Policy, operation string, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expo.MaxInterval = policy.MaxInterval
	}
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(error, time.Duration) {
		metrics.StorageRetries.WithLabelValues(operation).Inc()
	}
	return backoff.RetryNotify(op, b, notify)
}

func isPermanent(err error) bool {
	if apperr.KindOf(err) != "" {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
