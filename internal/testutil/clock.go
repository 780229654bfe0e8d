package testutil

import "sync"

// DeterministicClock provides a thread-safe tick source for tests.
//
// Every call to Now returns the current tick and then advances it by the
// step (default 1), so a sequence of captures gets strictly increasing,
// reproducible timestamps. Set pins the next value returned.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	tick int64
	step int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Now() returns 0.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{step: 1}
}

// Now returns the current tick and advances the clock by one step.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tick
	c.tick += c.step
	return t
}

// Current returns the current tick without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Set makes the next call to Now return tick.
func (c *DeterministicClock) Set(tick int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = tick
}

// SetStep changes how far Now advances the clock.
func (c *DeterministicClock) SetStep(step int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// Reset resets the clock to 0 with a step of 1.
//
// Used for test reuse. After Reset(), the next call to Now() returns 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
	c.step = 1
}
