package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff describes an exponential retry schedule. The delay before
// attempt n is BaseDelay * 2^(n-1), capped at MaxDelay, with up to 25%
// random jitter added on top.
type Backoff struct {
	MaxTries  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff is the schedule used by pipeline stages unless
// configured otherwise.
var DefaultBackoff = Backoff{
	MaxTries:  3,
	BaseDelay: time.Second,
	MaxDelay:  30 * time.Second,
}

// Delay returns the sleep duration before retry attempt n (1-based,
// so n=1 is the delay after the first failure).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.BaseDelay << (attempt - 1)
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all
// attempts fail. No delay between attempts.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErr calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all
// attempts fail. No delay between attempts.
func RetryErr(maxTries int, fn func() error) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// RetryWithContext calls fn until it succeeds, the backoff schedule is
// exhausted, or ctx is done. A context.Canceled or DeadlineExceeded
// error from fn aborts the remaining attempts. When retryable is
// non-nil, errors it rejects are returned immediately without further
// attempts.
func RetryWithContext[T any](ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	maxTries := b.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		lastErr = err
		if i < maxTries-1 && b.BaseDelay > 0 {
			if serr := sleepContext(ctx, b.Delay(i+1)); serr != nil {
				return zero, serr
			}
		}
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for functions without a
// result value.
func RetryErrWithContext(ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, b, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
