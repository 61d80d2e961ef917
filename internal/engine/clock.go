package engine

import "sync/atomic"

// Clock is a monotonic counter that stamps seek requests in arrival order.
// Superseded and applied results carry the stamp so callers can tell which
// request a result belongs to.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
