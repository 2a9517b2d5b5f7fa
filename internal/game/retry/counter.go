// Package retry implements bounded-retry Failure Counters that gate built-in
// behaviors such as familiar swapping, booster use and panic channel cycling.
package retry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRetryLimitExceeded reports that a Failure Counter tripped and its
// behavior is disabled until re-armed.
var ErrRetryLimitExceeded = errors.New("retry limit exceeded")

// Counter tracks consecutive failures of one behavior.
//
// Invariant: Disabled() is true iff limit consecutive failures were recorded
// since the last success or Rearm.
type Counter struct {
	name     string
	limit    int
	mu       sync.Mutex
	failures int
	disabled bool
}

// NewCounter creates an armed Counter.
//
// Precondition: limit must be > 0.
// Postcondition: Returns a Counter with zero failures.
func NewCounter(name string, limit int) *Counter {
	if limit <= 0 {
		panic("retry.NewCounter: limit must be > 0")
	}
	return &Counter{name: name, limit: limit}
}

// Name returns the behavior the counter gates.
func (c *Counter) Name() string { return c.name }

// Limit returns the configured failure limit.
func (c *Counter) Limit() int { return c.limit }

// RecordAttempt records the outcome of one attempt. A success resets the
// streak. Attempts recorded while disabled are ignored.
//
// Postcondition: returns ErrRetryLimitExceeded exactly once, on the attempt
// that trips the counter.
func (c *Counter) RecordAttempt(success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return nil
	}
	if success {
		c.failures = 0
		return nil
	}
	c.failures++
	if c.failures >= c.limit {
		c.disabled = true
		return fmt.Errorf("%s: %w after %d attempts", c.name, ErrRetryLimitExceeded, c.failures)
	}
	return nil
}

// Failures returns the current consecutive failure count.
func (c *Counter) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Disabled reports whether the gated behavior is disabled.
func (c *Counter) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Rearm clears the streak and re-enables the behavior.
func (c *Counter) Rearm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.disabled = false
}
