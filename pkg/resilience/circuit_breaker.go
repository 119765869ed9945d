package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Guard while the breaker is cooling down.
var ErrCircuitOpen = errors.New("circuit open")

const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// CircuitBreaker stops dialing a provider after threshold consecutive rate
// limits. It reopens after the cooldown, or after the provider's
// Retry-After when that is longer. Other errors leave it untouched.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	strikes int
	until   time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Open reports whether calls are currently refused.
func (c *CircuitBreaker) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}

// Guard runs fn unless the breaker is open, then records the result.
func (c *CircuitBreaker) Guard(fn func() error) error {
	if c.Open() {
		return ErrCircuitOpen
	}
	err := fn()
	c.record(err)
	return err
}

func (c *CircuitBreaker) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.strikes = 0
		c.until = time.Time{}
		return
	}
	hint, limited := retryAfter(err)
	if !limited {
		return
	}
	c.strikes++
	if c.strikes < c.threshold {
		return
	}
	c.until = c.now().Add(max(c.cooldown, hint))
}
