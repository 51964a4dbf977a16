package services

import (
	"context"
	"math/rand"
	"time"
)

// Retry configuration defaults for transient handler failures
const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryMax      = 2 * time.Second
)

// RetryPolicy retries an operation with jittered exponential backoff. A
// retryable func returns (done, err): done stops the loop regardless of err,
// so callers can distinguish permanent failures from transient ones.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy returns the policy used by event handlers for
// lost-race retries against the database.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: DefaultRetryAttempts,
		Base:     DefaultRetryBase,
		Max:      DefaultRetryMax,
	}
}

// Do runs fn until it reports done, the attempts are exhausted, or the
// context is cancelled. Returns the last error fn produced.
func (p RetryPolicy) Do(ctx context.Context, fn func() (bool, error)) error {
	var lastErr error

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		done, err := fn()
		lastErr = err
		if done {
			return err
		}
	}

	return lastErr
}

// delay computes the backoff for an attempt, capped at Max, with up to 50%
// random jitter to spread concurrent retries apart.
func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * p.Base
	if delay > p.Max {
		delay = p.Max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
