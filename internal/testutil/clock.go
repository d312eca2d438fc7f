package testutil

import (
	"sync"
	"time"
)

// DefaultBase is the first instant returned by a DeterministicClock.
var DefaultBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe, strictly increasing wall clock
// for tests.
//
// Each call to Now advances the clock by Step, so successive writes get
// distinct, predictable updated_at values. The clock can be reset for test
// reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock at DefaultBase that advances one
// second per call.
//
// The first call to Now() returns DefaultBase + 1s.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{base: DefaultBase, step: time.Second}
}

// Now advances the clock by one step and returns the new instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.base.Add(time.Duration(c.ticks) * c.step)
}

// Current returns the current instant without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(time.Duration(c.ticks) * c.step)
}

// Ticks returns how many times Now has been called since the last Reset.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its base.
//
// After Reset(), the next call to Now() returns base + step again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
