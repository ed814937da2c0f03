package fileio

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts       int
	Delay          time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy is 3 attempts, 50ms then 100ms backoff, 2s per attempt.
var DefaultPolicy = Policy{
	Attempts:       3,
	Delay:          50 * time.Millisecond,
	Multiplier:     2,
	AttemptTimeout: 2 * time.Second,
}

// RetryObserver is notified before each backoff sleep.
type RetryObserver interface {
	RecordRetry()
}

// ErrExhausted wraps the last error once every attempt failed with a
// retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Retry runs fn up to p.Attempts times while retryable(err) holds.
// Each attempt gets its own timeout derived from ctx. A non-retryable error
// or a cancelled ctx ends the loop immediately.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	return retry(ctx, p, retryable, nil, fn)
}

func retry(ctx context.Context, p Policy, retryable func(error) bool, obs RetryObserver, fn func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	delay := p.Delay

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		lastErr = fn(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts {
			break
		}

		if obs != nil {
			obs.RecordRetry()
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return errors.Join(ErrExhausted, lastErr)
}
