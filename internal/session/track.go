package session

import (
	"sync"
	"time"

	"github.com/roach88/codetape/internal/ir"
)

// TrackPlayer plays one audio or video track. Offsets are seconds from the
// start of the track's clock range.
type TrackPlayer interface {
	Track() ir.MediaTrack
	Play() error
	Pause() error
	Seek(offset float64) error
	Running() bool
}

// ClockTrack is a TrackPlayer without output. It follows its position on
// the time source, which is all a headless player needs to report where a
// track is.
type ClockTrack struct {
	track ir.MediaTrack
	time  TimeSource

	mu      sync.Mutex
	running bool
	offset  float64 // position when last paused or seeked
	since   time.Time // when offset was taken
}

// NewClockTrack creates a paused track at offset 0. A nil time source means
// wall time.
func NewClockTrack(track ir.MediaTrack, ts TimeSource) *ClockTrack {
	if ts == nil {
		ts = systemTime{}
	}
	return &ClockTrack{track: track, time: ts}
}

func (t *ClockTrack) Track() ir.MediaTrack { return t.track }

func (t *ClockTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.since = t.time.Now()
		t.running = true
	}
	return nil
}

func (t *ClockTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.offset = t.positionLocked()
		t.running = false
	}
	return nil
}

func (t *ClockTrack) Seek(offset float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = min(max(offset, 0), t.track.ClockRange.Duration())
	t.since = t.time.Now()
	return nil
}

func (t *ClockTrack) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Position returns the current offset into the track.
func (t *ClockTrack) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *ClockTrack) positionLocked() float64 {
	pos := t.offset
	if t.running {
		pos += t.time.Now().Sub(t.since).Seconds()
	}
	return min(pos, t.track.ClockRange.Duration())
}
