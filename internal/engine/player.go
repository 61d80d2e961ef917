package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/workspace"
)

// DefaultStepThreshold is the step count above which a seek is applied
// wholesale instead of step by step.
const DefaultStepThreshold = 50

// Adapter mirrors the simulated workspace into a host (an editor, a
// directory). The player calls it from its worker goroutine only.
type Adapter interface {
	// ApplySeekStep mirrors one event that the workspace just applied.
	ApplySeekStep(ctx context.Context, step ir.Event, dir workspace.Direction) error

	// Sync brings the host state of uris in line with the workspace.
	Sync(ctx context.Context, uris []string) error

	// ShouldRecordURI reports whether edits to uri belong in the session.
	ShouldRecordURI(uri string) bool
}

// InputSuppressor is implemented by adapters that must ignore host input
// while the player drives the host. The returned function lifts the
// suppression.
type InputSuppressor interface {
	SuppressInput() (release func())
}

// Outcome is how a seek request ended.
type Outcome int

const (
	// OutcomeApplied means the seek ran.
	OutcomeApplied Outcome = iota + 1
	// OutcomeSuperseded means a newer seek replaced this one before it ran.
	OutcomeSuperseded
)

// String returns "applied" or "superseded".
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Strategy is how a seek was applied.
type Strategy string

const (
	StrategyWholesale Strategy = "wholesale"
	StrategyStepwise  Strategy = "stepwise"
)

// SeekResult describes a finished seek request.
type SeekResult struct {
	Seq      int64
	Outcome  Outcome
	Strategy Strategy
	Data     workspace.SeekData
}

// Player drives a workspace and its adapter through seeks.
//
// Thread-safety model:
//   - Seek(), Play(), Pause(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - SeekNow(), RetrySync(): must not run concurrently with Run()
type Player struct {
	ws      *workspace.Workspace
	adapter Adapter
	queue   *intentQueue
	seq     *Clock

	stepThreshold int
	stepOnly      bool

	mu      sync.Mutex
	playing bool
	release func()
	pending map[string]struct{} // URIs the adapter failed to sync
}

// PlayerOption allows configuration of player parameters.
type PlayerOption func(*Player)

// WithStepThreshold sets the step count above which seeks are wholesale.
//
// Default: 50 steps (DefaultStepThreshold)
func WithStepThreshold(n int) PlayerOption {
	return func(p *Player) {
		p.stepThreshold = n
	}
}

// WithStepOnly forces every seek to be step-wise, for adapters that
// cannot sync wholesale.
func WithStepOnly(stepOnly bool) PlayerOption {
	return func(p *Player) {
		p.stepOnly = stepOnly
	}
}

// NewPlayer creates a player for ws and adapter.
func NewPlayer(ws *workspace.Workspace, adapter Adapter, opts ...PlayerOption) *Player {
	p := &Player{
		ws:            ws,
		adapter:       adapter,
		queue:         newIntentQueue(),
		seq:           NewClock(),
		stepThreshold: DefaultStepThreshold,
		pending:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workspace returns the player's workspace.
func (p *Player) Workspace() *workspace.Workspace {
	return p.ws
}

// Adapter returns the player's adapter.
func (p *Player) Adapter() Adapter {
	return p.adapter
}

// Play marks the player as playing and installs input suppression.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.playing = true
	if s, ok := p.adapter.(InputSuppressor); ok {
		p.release = s.SuppressInput()
	}
}

// Pause marks the player as paused and releases input suppression.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.playing = false
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// IsPlaying reports whether Play was called without a matching Pause.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seek requests a seek to clock and waits for it to finish. Seeks are
// executed by Run one at a time; a request that is still waiting when a
// newer one arrives returns with OutcomeSuperseded and no error.
func (p *Player) Seek(ctx context.Context, clock float64, useStepper bool) (SeekResult, error) {
	it := newSeekIntent(p.seq.Next(), clock, useStepper)
	displaced, ok := p.queue.Offer(it)
	if !ok {
		return SeekResult{Seq: it.Seq}, ErrPlayerStopped
	}
	if displaced != nil {
		slog.Debug("seek superseded", "seq", displaced.Seq, "clock", displaced.Clock, "by", it.Seq)
		displaced.resolve(SeekResult{Seq: displaced.Seq, Outcome: OutcomeSuperseded}, nil)
	}

	select {
	case <-ctx.Done():
		return SeekResult{Seq: it.Seq}, ctx.Err()
	case r := <-it.done:
		return r.result, r.err
	}
}

// Run is the seek worker loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (p *Player) Run(ctx context.Context) error {
	slog.Debug("player starting")

	for {
		if it, ok := p.queue.TryTake(); ok {
			res, err := p.SeekNow(ctx, it.Clock, it.UseStepper)
			res.Seq = it.Seq
			it.resolve(res, err)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("player stopping: context cancelled")
			p.stop()
			return ctx.Err()

		case <-p.queue.Wait():
			if p.queue.Len() == 0 && p.queue.Closed() {
				slog.Debug("player stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop shuts the worker down. A seek still waiting is resolved with
// ErrPlayerStopped.
func (p *Player) Stop() {
	p.stop()
}

func (p *Player) stop() {
	if orphan := p.queue.Close(); orphan != nil {
		orphan.resolve(SeekResult{Seq: orphan.Seq}, ErrPlayerStopped)
	}
}

// SeekNow performs a seek synchronously.
//
// Seeks with more than the step threshold of steps are applied to the
// workspace in one go and mirrored with a single adapter Sync, unless
// useStepper is set or the player is step-only. Otherwise every step is
// applied to the workspace and then to the adapter.
//
// A desync aborts the seek. An adapter failure does not: the workspace
// still reaches the target and the URIs that failed to mirror are kept for
// RetrySync. After a desync, the URIs of steps applied to the workspace but
// not mirrored are kept for RetrySync as well.
func (p *Player) SeekNow(ctx context.Context, clock float64, useStepper bool) (SeekResult, error) {
	if err := ctx.Err(); err != nil {
		return SeekResult{}, err
	}
	if !p.IsPlaying() {
		if s, ok := p.adapter.(InputSuppressor); ok {
			release := s.SuppressInput()
			defer release()
		}
	}

	sd := p.ws.GetSeekData(clock)
	res := SeekResult{Outcome: OutcomeApplied, Data: sd, Strategy: StrategyStepwise}

	var err error
	if len(sd.Steps) > p.stepThreshold && !useStepper && !p.stepOnly {
		res.Strategy = StrategyWholesale
		err = p.seekWholesale(ctx, sd)
	} else {
		err = p.seekStepwise(ctx, sd)
	}
	if err != nil {
		slog.Error("seek failed",
			"clock", sd.Clock,
			"direction", sd.Direction.String(),
			"steps", len(sd.Steps),
			"strategy", string(res.Strategy),
			"error", err,
		)
		return res, err
	}

	slog.Debug("seek applied",
		"clock", sd.Clock,
		"direction", sd.Direction.String(),
		"steps", len(sd.Steps),
		"strategy", string(res.Strategy),
		"stop", sd.Stop,
	)
	return res, nil
}

func (p *Player) seekWholesale(ctx context.Context, sd workspace.SeekData) error {
	uris := make(map[string]struct{})
	if err := p.ws.SeekWithData(sd, uris); err != nil {
		// Steps before the failing one changed the workspace; the host has
		// not seen them yet.
		p.addPending(uris)
		return NewDesyncError(sd.Clock, err)
	}
	return p.sync(ctx, sd.Clock, uris)
}

func (p *Player) seekStepwise(ctx context.Context, sd workspace.SeekData) error {
	var adapterErr error
	failed := make(map[string]struct{})

	for _, step := range sd.Steps {
		if err := p.ws.ApplySeekStep(step, sd.Direction); err != nil {
			p.addPending(failed)
			return NewDesyncError(sd.Clock, err)
		}
		if adapterErr != nil {
			// The host is already behind; collect the rest for RetrySync.
			for _, uri := range workspace.TouchedURIs(step) {
				failed[uri] = struct{}{}
			}
			continue
		}
		if err := p.adapter.ApplySeekStep(ctx, step, sd.Direction); err != nil {
			adapterErr = err
			for _, uri := range workspace.TouchedURIs(step) {
				failed[uri] = struct{}{}
			}
		}
	}
	p.ws.SetClock(sd.Clock)

	if adapterErr != nil {
		uris := p.addPending(failed)
		return NewAdapterSyncError(sd.Clock, uris, adapterErr)
	}
	return nil
}

// sync mirrors uris plus any pending URIs through the adapter.
func (p *Player) sync(ctx context.Context, clock float64, uris map[string]struct{}) error {
	all := p.addPending(uris)
	if len(all) == 0 {
		return nil
	}
	if err := p.adapter.Sync(ctx, all); err != nil {
		return NewAdapterSyncError(clock, all, err)
	}
	p.clearPending()
	return nil
}

// RetrySync retries syncing the URIs from earlier adapter failures.
func (p *Player) RetrySync(ctx context.Context) error {
	return p.sync(ctx, p.ws.Clock(), nil)
}

// PendingSync returns the URIs waiting for RetrySync, sorted.
func (p *Player) PendingSync() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.pending))
}

func (p *Player) addPending(uris map[string]struct{}) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for uri := range uris {
		p.pending[uri] = struct{}{}
	}
	return slices.Sorted(maps.Keys(p.pending))
}

func (p *Player) clearPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.pending)
}
