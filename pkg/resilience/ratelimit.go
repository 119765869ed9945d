package resilience

import (
	"errors"
	"time"
)

// RateLimitError is a provider's 429. RetryAfter is zero when the provider
// sent no hint.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Provider != "":
		return e.Provider + ": rate limit"
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	_, ok := retryAfter(err)
	return ok
}

// retryAfter extracts the provider hint from a rate limit error.
func retryAfter(err error) (time.Duration, bool) {
	var rl RateLimitError
	if err == nil || !errors.As(err, &rl) {
		return 0, false
	}
	return rl.RetryAfter, true
}
