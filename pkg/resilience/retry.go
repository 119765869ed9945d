package resilience

import (
	"context"
	"time"
)

const defaultBackoff = 200 * time.Millisecond

// RetryPolicy retries an operation with doubling backoff. A rate limit
// carrying Retry-After waits at least that long before the next attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries all.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return RetryPolicy{MaxRetries: max(maxRetries, 0), Backoff: backoff}
}

// Do calls fn up to MaxRetries+1 times. It returns the last error, also when
// ctx ends while waiting.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := r.Backoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= r.MaxRetries || !r.retryable(err) {
			return err
		}
		wait := backoff
		if hint, ok := retryAfter(err); ok && hint > wait {
			wait = hint
		}
		if !sleep(ctx, wait) {
			return err
		}
		backoff *= 2
	}
}

func (r RetryPolicy) retryable(err error) bool {
	return r.Retryable == nil || r.Retryable(err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
