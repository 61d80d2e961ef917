package engine

import "sync"

// seekIntent is a request to move the workspace to Clock.
type seekIntent struct {
	Seq        int64
	Clock      float64
	UseStepper bool
	done       chan seekReply // buffered, size 1
}

type seekReply struct {
	result SeekResult
	err    error
}

func newSeekIntent(seq int64, clock float64, useStepper bool) *seekIntent {
	return &seekIntent{Seq: seq, Clock: clock, UseStepper: useStepper, done: make(chan seekReply, 1)}
}

// resolve delivers the reply. Each intent is resolved exactly once.
func (it *seekIntent) resolve(res SeekResult, err error) {
	it.done <- seekReply{result: res, err: err}
}

// intentQueue is a single-slot latest-wins queue of seek intents.
//
// Offering an intent replaces any intent the worker has not taken yet; the
// displaced intent is handed back so the caller can resolve it as
// superseded. At most one intent is pending and the worker executes one at a
// time, so a burst of seeks (scrubbing a timeline) collapses to the latest.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type intentQueue struct {
	mu      sync.Mutex
	pending *seekIntent
	closed  bool
	signal  chan struct{} // Signals intent availability (buffered, size 1)
}

func newIntentQueue() *intentQueue {
	return &intentQueue{signal: make(chan struct{}, 1)}
}

// Offer makes it the pending intent.
// Thread-safe: may be called from any goroutine.
// Returns the displaced intent, if any, and false if the queue is closed.
func (q *intentQueue) Offer(it *seekIntent) (*seekIntent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	displaced := q.pending
	q.pending = it

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return displaced, true
}

// TryTake removes the pending intent without blocking.
func (q *intentQueue) TryTake() (*seekIntent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		return nil, false
	}
	it := q.pending
	q.pending = nil
	return it, true
}

// Wait returns a channel that signals when an intent may be available.
// The channel is closed when the queue is closed.
func (q *intentQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns 1 if an intent is pending, else 0.
func (q *intentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return 0
	}
	return 1
}

// Closed reports whether Close was called.
func (q *intentQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting intents and returns the one still pending, if any.
func (q *intentQueue) Close() *seekIntent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal) // Wakes all waiters

	orphan := q.pending
	q.pending = nil
	return orphan
}
