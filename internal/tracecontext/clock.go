package tracecontext

import (
	"time"
)

// TickSource supplies raw ticks. Tests substitute a deterministic one.
type TickSource interface {
	Now() int64
}

// Clock converts between ticks and elapsed time at a fixed frequency.
//
// Ticks count from the clock's creation using the monotonic clock, so they
// never go backwards within a session.
//
// Thread-safety: Clock is immutable after construction and safe for
// concurrent use.
type Clock struct {
	frequency int64
	start     time.Time
	source    TickSource
}

// NewClock creates a clock ticking frequency times per second.
func NewClock(frequency int64) *Clock {
	if frequency <= 0 {
		panic("tracecontext: clock frequency must be positive")
	}
	return &Clock{frequency: frequency, start: time.Now()}
}

// NewClockWithSource creates a clock whose ticks come from src. The
// frequency is still used for conversions.
func NewClockWithSource(frequency int64, src TickSource) *Clock {
	c := NewClock(frequency)
	c.source = src
	return c
}

// Frequency returns ticks per second.
func (c *Clock) Frequency() int64 {
	return c.frequency
}

// Now returns the current tick.
func (c *Clock) Now() int64 {
	if c.source != nil {
		return c.source.Now()
	}
	ns := time.Since(c.start).Nanoseconds()
	return scale(ns, c.frequency, int64(time.Second))
}

// Duration converts ticks to a time.Duration.
func (c *Clock) Duration(ticks int64) time.Duration {
	return time.Duration(scale(ticks, int64(time.Second), c.frequency))
}

// Microseconds converts ticks to fractional microseconds.
func (c *Clock) Microseconds(ticks int64) float64 {
	return float64(ticks) * 1e6 / float64(c.frequency)
}

// Milliseconds converts ticks to fractional milliseconds.
func (c *Clock) Milliseconds(ticks int64) float64 {
	return float64(ticks) * 1e3 / float64(c.frequency)
}

// scale returns v*num/den, splitting v to keep the product in range.
func scale(v, num, den int64) int64 {
	return v/den*num + v%den*num/den
}
