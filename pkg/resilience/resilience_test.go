package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	policy := NewRetryPolicy(3, time.Millisecond)
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryReturnsLastErrorAndHonoursRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	policy := NewRetryPolicy(5, time.Millisecond)
	policy.Retryable = func(err error) bool { return !errors.Is(err, fatal) }
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected single fatal attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryAbortsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := NewRetryPolicy(10, time.Hour).Do(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one attempt before cancel, got calls=%d err=%v", calls, err)
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	rl := RateLimitError{Provider: "openai"}
	_ = cb.Guard(func() error { return errors.New("other") })
	if cb.Open() {
		t.Fatalf("non rate-limit errors must not trip the breaker")
	}
	_ = cb.Guard(func() error { return rl })
	_ = cb.Guard(func() error { return rl })
	if err := cb.Guard(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := cb.Guard(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close after cooldown, got %v", err)
	}
}

func TestCircuitBreakerHonoursRetryAfter(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	_ = cb.Guard(func() error { return RateLimitError{RetryAfter: time.Minute} })
	now = now.Add(30 * time.Second)
	if !cb.Open() {
		t.Fatalf("breaker must stay open for the provider's retry-after")
	}
	now = now.Add(31 * time.Second)
	if cb.Open() {
		t.Fatalf("breaker should close once retry-after has passed")
	}
}

func TestRetryWaitsForRetryAfterHint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	calls := 0
	err := NewRetryPolicy(3, time.Millisecond).Do(ctx, func(context.Context) error {
		calls++
		return RateLimitError{Provider: "openai", RetryAfter: time.Hour}
	})
	if !IsRateLimit(err) || calls != 1 {
		t.Fatalf("expected one attempt then a wait cut short by ctx, got calls=%d err=%v", calls, err)
	}
	if got := err.Error(); got != "openai: rate limit" {
		t.Fatalf("unexpected message %q", got)
	}
}
