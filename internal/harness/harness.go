package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/testutil"
	"github.com/roach88/codetape/internal/workspace"
)

// errInjected is returned by the trace adapter while a seek has
// fail_adapter set.
var errInjected = errors.New("injected adapter failure")

// Harness is the scenario execution engine.
// It records the scenario's events once and replays the finished session
// as often as the seeks and assertions need.
type Harness struct {
	scenario *Scenario
	blobs    *testutil.MapBlobs
	hashes   map[string]string // blob name -> hash
	eol      ir.EndOfLine
	log      *eventlog.Container
	recorded workspace.Snapshot // state at the end of the recording
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Record the events into a fresh session
// 2. Replay the seeks on a fresh player, tracing each one
// 3. Check each seek's expect clause
// 4. Evaluate the assertions
//
// An error is returned when the events cannot be recorded; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	if err := h.record(); err != nil {
		return nil, fmt.Errorf("failed to record events: %w", err)
	}

	ctx := context.Background()
	result := NewResult()
	h.executeSeeks(ctx, result)

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	eol := ir.LF
	if scenario.DefaultEOL != "" {
		var err error
		if eol, err = ir.ParseEndOfLine(scenario.DefaultEOL); err != nil {
			return nil, err
		}
	}
	h := &Harness{
		scenario: scenario,
		blobs:    testutil.NewMapBlobs(),
		hashes:   make(map[string]string, len(scenario.Blobs)),
		eol:      eol,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for name, content := range scenario.Blobs {
		h.hashes[name] = h.blobs.Put([]byte(content))
	}
	return h, nil
}

// Log returns the recorded session log. It is nil before Run records it.
func (h *Harness) Log() *eventlog.Container {
	return h.log
}

// record builds the session log the way a live recording does.
func (h *Harness) record() error {
	log := eventlog.New()
	log.StartRecording()
	ws := h.newWorkspace(log)
	for i, step := range h.scenario.Events {
		ev, err := h.buildEvent(step)
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		if _, err := ws.RecordEvent(ev); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	log.StopRecording()
	h.log = log
	h.recorded = ws.Snapshot()
	h.logger.Debug("scenario recorded", "scenario", h.scenario.Name, "events", log.Len())
	return nil
}

func (h *Harness) newWorkspace(log *eventlog.Container) *workspace.Workspace {
	return workspace.New(log, workspace.WithBlobs(h.blobs), workspace.WithDefaultEOL(h.eol))
}

// newPlayer creates a player on a fresh workspace over the recorded log.
func (h *Harness) newPlayer(adapter engine.Adapter, opts ...engine.PlayerOption) *engine.Player {
	if t := h.scenario.StepThreshold; t != nil {
		opts = append([]engine.PlayerOption{engine.WithStepThreshold(*t)}, opts...)
	}
	return engine.NewPlayer(h.newWorkspace(h.log), adapter, opts...)
}

// executeSeeks runs every seek on one player and traces it.
func (h *Harness) executeSeeks(ctx context.Context, result *Result) {
	adapter := &traceAdapter{}
	player := h.newPlayer(adapter)
	ws := player.Workspace()

	for i, seek := range h.scenario.Seeks {
		adapter.calls = []string{}
		adapter.fail = seek.FailAdapter

		res, err := player.SeekNow(ctx, seek.Clock, seek.Stepwise)
		snap := ws.Snapshot()

		ev := TraceEvent{
			Seek:      seek.Clock,
			Clock:     ws.Clock(),
			Direction: res.Data.Direction.String(),
			Strategy:  string(res.Strategy),
			Steps:     stepIDs(res.Data.Steps),
			Adapter:   adapter.calls,
			State:     summaryLines(snap),
			Error:     errorCode(err),
		}
		result.AddSeekTrace(ev, snap)
		h.logger.Debug("seek traced", "seek", seek.Clock, "clock", ev.Clock, "steps", len(ev.Steps))

		if err != nil && !isRuntimeError(err) {
			result.AddError(fmt.Sprintf("seeks[%d]: %v", i, err))
			continue
		}
		if seek.Expect != nil {
			for _, msg := range checkExpect(ws, ev, seek.Expect) {
				result.AddError(fmt.Sprintf("seeks[%d] (clock %g): %s", i, seek.Clock, msg))
			}
		} else if ev.Error != "" {
			result.AddError(fmt.Sprintf("seeks[%d] (clock %g): unexpected error %v", i, seek.Clock, err))
		}
	}
}

// checkExpect compares the state after a seek with an expect clause.
func checkExpect(ws *workspace.Workspace, ev TraceEvent, e *SeekExpect) []string {
	var errs []string
	if ev.Error != e.Error {
		errs = append(errs, fmt.Sprintf("error: expected %q, got %q", e.Error, ev.Error))
	}
	if e.Strategy != "" && e.Strategy != ev.Strategy {
		errs = append(errs, fmt.Sprintf("strategy: expected %s, got %s", e.Strategy, ev.Strategy))
	}
	if e.Clock != nil && *e.Clock != ev.Clock {
		errs = append(errs, fmt.Sprintf("clock: expected %g, got %g", *e.Clock, ev.Clock))
	}
	if e.Applied != nil && *e.Applied != ws.Applied() {
		errs = append(errs, fmt.Sprintf("applied: expected %d, got %d", *e.Applied, ws.Applied()))
	}
	if e.Active != nil {
		want := ""
		if *e.Active != "" {
			want = resolveURI(*e.Active)
		}
		if got := ws.ActiveURI(); got != want {
			errs = append(errs, fmt.Sprintf("active: expected %q, got %q", want, got))
		}
	}
	for _, p := range slices.Sorted(maps.Keys(e.Texts)) {
		text, ok := ws.Text(resolveURI(p))
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("text of %s: no document", p))
		case text != e.Texts[p]:
			errs = append(errs, fmt.Sprintf("text of %s: expected %q, got %q", p, e.Texts[p], text))
		}
	}
	for _, p := range slices.Sorted(maps.Keys(e.Files)) {
		f, ok := ws.File(resolveURI(p))
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("file %s: not in worktree", p))
		case string(f.Type) != e.Files[p]:
			errs = append(errs, fmt.Sprintf("file %s: expected %s, got %s", p, e.Files[p], f.Type))
		}
	}
	for _, p := range e.Missing {
		uri := resolveURI(p)
		if _, ok := ws.File(uri); ok {
			errs = append(errs, fmt.Sprintf("file %s: expected missing, found in worktree", p))
		}
		if _, ok := ws.Document(uri); ok {
			errs = append(errs, fmt.Sprintf("document %s: expected missing, found open", p))
		}
	}
	return errs
}

// buildEvent converts a scenario step to an event with forward data.
func (h *Harness) buildEvent(step EventStep) (ir.Event, error) {
	typ, err := ir.ParseEventType(step.Type)
	if err != nil {
		return ir.Event{}, err
	}
	uri := resolveURI(step.URI)
	switch typ {
	case ir.EventFsCreate:
		ref := ir.FileRef{Type: ir.FileType(step.File)}
		if ref.Type != ir.FileDir && ref.Type != ir.FileEmpty {
			hash, ok := h.hashes[step.File]
			if !ok {
				return ir.Event{}, fmt.Errorf("unknown blob %q", step.File)
			}
			ref = ir.FileRef{Type: ir.FileBlob, Hash: hash}
		}
		return ir.NewFsCreate(step.Clock, uri, ref), nil
	case ir.EventFsDelete:
		return ir.NewFsDelete(step.Clock, uri), nil
	case ir.EventOpenTextDocument:
		eol := h.eol
		if step.EOL != "" {
			if eol, err = ir.ParseEndOfLine(step.EOL); err != nil {
				return ir.Event{}, err
			}
		}
		return ir.NewOpenTextDocument(step.Clock, uri, step.Text, eol), nil
	case ir.EventCloseTextDocument:
		return ir.NewCloseTextDocument(step.Clock, uri), nil
	case ir.EventShowTextEditor:
		return ir.NewShowTextEditor(step.Clock, uri, selections(step.Selections), rangeOf(step.Visible)), nil
	case ir.EventCloseTextEditor:
		return ir.NewCloseTextEditor(step.Clock, uri), nil
	case ir.EventTextChange:
		var changes []ir.ContentChange
		if step.Range != nil && step.Text != nil {
			changes = append(changes, ir.ContentChange{Range: rangeOf(step.Range), Text: *step.Text})
		}
		for _, c := range step.Changes {
			changes = append(changes, ir.ContentChange{Range: rangeOf(c.Range), Text: c.Text})
		}
		return ir.NewTextChange(step.Clock, uri, changes...), nil
	case ir.EventSelect:
		return ir.NewSelect(step.Clock, uri, selections(step.Selections), rangeOf(step.Visible)), nil
	case ir.EventScroll:
		return ir.NewScroll(step.Clock, uri, rangeOf(step.Visible)), nil
	case ir.EventSave:
		return ir.NewSave(step.Clock, uri), nil
	default:
		return ir.Event{}, fmt.Errorf("unsupported event type %s", typ)
	}
}

func rangeOf(n []int) ir.Range {
	if len(n) != 4 {
		return ir.Range{}
	}
	return ir.R(n[0], n[1], n[2], n[3])
}

func selections(sels [][]int) []ir.Selection {
	if sels == nil {
		return nil
	}
	out := make([]ir.Selection, len(sels))
	for i, s := range sels {
		out[i] = ir.NewSelection(ir.NewPosition(s[0], s[1]), ir.NewPosition(s[2], s[3]))
	}
	return out
}

func stepIDs(steps []ir.Event) []int64 {
	ids := make([]int64, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func summaryLines(s workspace.Snapshot) []string {
	sum := strings.TrimSuffix(s.Summary(), "\n")
	if sum == "" {
		return []string{}
	}
	return strings.Split(sum, "\n")
}

func errorCode(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return ""
}

func isRuntimeError(err error) bool {
	var re *engine.RuntimeError
	return errors.As(err, &re)
}

// traceAdapter records adapter calls instead of mirroring into a host.
type traceAdapter struct {
	calls []string
	fail  bool
}

var _ engine.Adapter = (*traceAdapter)(nil)

func (a *traceAdapter) ApplySeekStep(_ context.Context, step ir.Event, dir workspace.Direction) error {
	a.calls = append(a.calls, fmt.Sprintf("apply %s #%d %s %s", dir, step.ID, step.Type, step.URI))
	if a.fail {
		return errInjected
	}
	return nil
}

func (a *traceAdapter) Sync(_ context.Context, uris []string) error {
	a.calls = append(a.calls, "sync "+strings.Join(uris, " "))
	if a.fail {
		return errInjected
	}
	return nil
}

func (a *traceAdapter) ShouldRecordURI(string) bool {
	return true
}

// nopAdapter mirrors nothing. It serves players that only check state.
type nopAdapter struct{}

func (nopAdapter) ApplySeekStep(context.Context, ir.Event, workspace.Direction) error { return nil }
func (nopAdapter) Sync(context.Context, []string) error                              { return nil }
func (nopAdapter) ShouldRecordURI(string) bool                                      { return true }
