package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall-clock time source that only moves when told to.
//
// It satisfies session.TimeSource, so controller tests can drive playback
// and recording ticks deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the start time of a ManualClock created with a zero time.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualClock creates a clock reading start, or Epoch if start is zero.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored: wall time never runs backwards.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// AdvanceSeconds is Advance for a float number of seconds.
func (c *ManualClock) AdvanceSeconds(s float64) time.Time {
	return c.Advance(time.Duration(s * float64(time.Second)))
}
