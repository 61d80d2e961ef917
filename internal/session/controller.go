// Package session coordinates a workspace player and media tracks on one
// master clock.
//
// A Controller is a small state machine:
//
//	Init/Paused --Play--> Playing
//	Init/Paused --Record--> Recording
//	Playing/Recording --Pause--> Paused
//
// Seek is valid in every state and never changes it. While Playing, Tick
// advances the master clock by the wall time elapsed since the last tick and
// seeks the workspace player, then the tracks. While Recording, the master
// clock is the clock at record start plus the wall time elapsed since.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/workspace"
)

var (
	// ErrInvalidTransition is returned when a state change is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrIgnoredURI is returned by RecordEvent for URIs the adapter does
	// not record.
	ErrIgnoredURI = errors.New("uri is not recorded")
)

// DefaultTickInterval is the playback tick period.
const DefaultTickInterval = 50 * time.Millisecond

// State is the controller's play/pause/record status.
type State int

const (
	StateInit State = iota
	StatePlaying
	StatePaused
	StateRecording
)

var stateNames = map[State]string{
	StateInit:      "init",
	StatePlaying:   "playing",
	StatePaused:    "paused",
	StateRecording: "recording",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TimeSource reads wall-clock time.
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// Status is a point-in-time view of the controller.
type Status struct {
	State    State
	Clock    float64
	Duration float64
	Err      error
}

// Controller drives a player and its tracks through play, pause, record and
// seek.
//
// Thread-safety model:
//   - All exported methods are safe from any goroutine
//   - Seeks run on the player's worker, started by Start
type Controller struct {
	player *engine.Player
	tracks []TrackPlayer
	time   TimeSource

	tickInterval time.Duration

	mu       sync.Mutex
	state    State
	clock    float64
	duration float64
	lastTick time.Time
	err      error

	recordBase  float64
	recordStart time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeSource sets the wall clock. Default: time.Now.
func WithTimeSource(ts TimeSource) Option {
	return func(c *Controller) {
		c.time = ts
	}
}

// WithTickInterval sets the playback tick period used by Start.
//
// Default: 50ms (DefaultTickInterval)
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithTracks adds media tracks.
func WithTracks(tracks ...TrackPlayer) Option {
	return func(c *Controller) {
		c.tracks = append(c.tracks, tracks...)
	}
}

// New creates a controller in StateInit at clock 0.
func New(player *engine.Player, opts ...Option) *Controller {
	c := &Controller{
		player:       player,
		time:         systemTime{},
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.duration = player.Workspace().Duration()
	for _, tp := range c.tracks {
		c.duration = max(c.duration, tp.Track().ClockRange.End)
	}
	player.Workspace().ExtendDuration(c.duration)
	return c
}

// Player returns the workspace player.
func (c *Controller) Player() *engine.Player {
	return c.player
}

// Tracks returns the media tracks.
func (c *Controller) Tracks() []TrackPlayer {
	return c.tracks
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Clock returns the master clock.
func (c *Controller) Clock() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// Duration returns the session duration.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Err returns the error of the last failed seek, cleared by Play.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns state, clock, duration and error in one read.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Clock: c.clock, Duration: c.duration, Err: c.err}
}

// Start runs the player worker and the playback ticker until ctx is
// cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("player worker stopped", "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		c.tickLoop(ctx)
	}()
}

// Stop shuts down the worker and ticker started by Start and waits for them.
// The player cannot be restarted afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.player.Stop()
	c.wg.Wait()
}

func (c *Controller) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are kept in Err and logged by the seek path.
			_ = c.Tick(ctx)
		}
	}
}

// Play starts playback from the current clock, or from 0 when the clock is
// at the end.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInit && c.state != StatePaused {
		defer c.mu.Unlock()
		return fmt.Errorf("%w: play while %s", ErrInvalidTransition, c.state)
	}
	target := c.clock
	if c.duration > 0 && c.clock >= c.duration {
		target = 0
	}
	c.state = StatePlaying
	c.err = nil
	c.lastTick = c.time.Now()
	c.player.Play()
	c.mu.Unlock()

	slog.Info("playback started", "clock", target, "duration", c.Duration())
	return c.seek(ctx, target, true)
}

// Pause stops playback or recording.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePlaying:
	case StateRecording:
		c.advanceRecordingLocked()
		c.player.Workspace().Log().StopRecording()
		slog.Info("recording stopped", "clock", c.clock, "events", c.player.Workspace().Log().Len())
	default:
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, c.state)
	}
	c.pauseLocked()
	return nil
}

// Record starts recording at the current clock. The workspace must be at
// the end of its log.
func (c *Controller) Record(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInit && c.state != StatePaused {
		return fmt.Errorf("%w: record while %s", ErrInvalidTransition, c.state)
	}
	ws := c.player.Workspace()
	if !ws.AtEnd() {
		return engine.NewNotAtEndError(c.clock, workspace.ErrNotAtEnd)
	}

	c.recordBase = ws.Clock()
	c.recordStart = c.time.Now()
	c.clock = c.recordBase
	ws.Log().StartRecording()
	for _, tp := range c.tracks {
		if tp.Running() {
			c.trackErr(tp, "pause", tp.Pause())
		}
	}
	c.state = StateRecording

	slog.Info("recording started", "clock", c.clock)
	return nil
}

// RecordEvent stamps ev with the recording clock and records it. Events for
// URIs the adapter does not record return ErrIgnoredURI.
func (c *Controller) RecordEvent(ctx context.Context, ev ir.Event) (ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return ir.Event{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return ir.Event{}, fmt.Errorf("%w: session is %s", eventlog.ErrNotRecording, c.state)
	}
	if !c.player.Adapter().ShouldRecordURI(ev.URI) {
		return ir.Event{}, fmt.Errorf("%w: %s", ErrIgnoredURI, ev.URI)
	}

	c.advanceRecordingLocked()
	ev.Clock = c.clock
	stored, err := c.player.Workspace().RecordEvent(ev)
	if err != nil {
		if errors.Is(err, workspace.ErrNotAtEnd) {
			return ir.Event{}, engine.NewNotAtEndError(ev.Clock, err)
		}
		return ir.Event{}, err
	}
	c.clock = stored.Clock
	c.duration = max(c.duration, c.clock)
	return stored, nil
}

// Seek moves every track to clock. A seek displaced by a newer one returns
// nil.
func (c *Controller) Seek(ctx context.Context, clock float64) error {
	return c.seek(ctx, clock, true)
}

// Tick advances playback by the wall time elapsed since the previous tick.
// It is a no-op unless Playing or Recording.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRecording:
		c.advanceRecordingLocked()
		c.mu.Unlock()
		return nil
	case StatePlaying:
	default:
		c.mu.Unlock()
		return nil
	}
	now := c.time.Now()
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now
	target := min(max(c.clock+elapsed, 0), c.duration)
	c.mu.Unlock()

	return c.seek(ctx, target, false)
}

// seek runs a player seek, then lines up the tracks. reseek moves tracks
// that are already running.
func (c *Controller) seek(ctx context.Context, clock float64, reseek bool) error {
	res, err := c.player.Seek(ctx, clock, false)
	if err == nil && res.Outcome == engine.OutcomeSuperseded {
		return nil
	}
	if err != nil && (ctx.Err() != nil || errors.Is(err, engine.ErrPlayerStopped)) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked(err)
		return err
	}
	c.clock = res.Data.Clock
	c.updateTracksLocked(reseek)
	if c.state == StatePlaying && (res.Data.Stop || c.clock >= c.duration) {
		slog.Info("playback reached the end", "clock", c.clock)
		c.pauseLocked()
	}
	return nil
}

// failLocked keeps the last clock the workspace reached and pauses playback.
func (c *Controller) failLocked(err error) {
	c.err = err
	c.clock = c.player.Workspace().Clock()
	slog.Error("seek failed",
		"state", c.state.String(),
		"clock", c.clock,
		"error", err,
	)
	if c.state == StatePlaying {
		c.pauseLocked()
	}
}

func (c *Controller) pauseLocked() {
	c.state = StatePaused
	c.player.Pause()
	for _, tp := range c.tracks {
		if tp.Running() {
			c.trackErr(tp, "pause", tp.Pause())
		}
	}
}

func (c *Controller) advanceRecordingLocked() {
	c.clock = c.recordBase + c.time.Now().Sub(c.recordStart).Seconds()
	c.duration = max(c.duration, c.clock)
	c.player.Workspace().ExtendDuration(c.duration)
}

// updateTracksLocked starts tracks whose range contains the clock and
// pauses running tracks outside it.
func (c *Controller) updateTracksLocked(reseek bool) {
	for _, tp := range c.tracks {
		r := tp.Track().ClockRange
		if !r.Contains(c.clock) {
			if tp.Running() {
				c.trackErr(tp, "pause", tp.Pause())
			}
			continue
		}
		offset := c.clock - r.Start
		switch {
		case c.state != StatePlaying:
			if reseek {
				c.trackErr(tp, "seek", tp.Seek(offset))
			}
		case !tp.Running():
			c.trackErr(tp, "seek", tp.Seek(offset))
			c.trackErr(tp, "play", tp.Play())
		case reseek:
			c.trackErr(tp, "seek", tp.Seek(offset))
		}
	}
}

func (c *Controller) trackErr(tp TrackPlayer, op string, err error) {
	if err != nil {
		slog.Error("track failed", "track", tp.Track().ID, "op", op, "error", err)
	}
}
