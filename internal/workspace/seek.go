package workspace

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/codetape/internal/ir"
)

// Direction is the direction of a seek.
type Direction int

const (
	// Forwards applies events in (clock, id) order.
	Forwards Direction = iota + 1
	// Backwards reverts events in reverse (clock, id) order.
	Backwards
)

// String returns "forwards" or "backwards".
func (d Direction) String() string {
	switch d {
	case Forwards:
		return "forwards"
	case Backwards:
		return "backwards"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// SeekData is the plan for moving the workspace to Clock.
type SeekData struct {
	Steps     []ir.Event
	Direction Direction
	Clock     float64
	// Stop is true when Clock is at the end of the session.
	Stop bool
}

// GetSeekData plans a seek to target. The target is clamped to
// [0, duration]. Forwards steps are the unapplied events with clock <= target
// in order; backwards steps are the applied events with clock > target, last
// applied first.
func (w *Workspace) GetSeekData(target float64) SeekData {
	w.mu.RLock()
	defer w.mu.RUnlock()

	dur := w.durationLocked()
	target = min(max(target, 0), dur)
	sd := SeekData{Direction: Forwards, Clock: target, Stop: target >= dur, Steps: []ir.Event{}}

	upper := w.log.UpperBound(target)
	switch {
	case upper > w.applied:
		sd.Steps = w.log.Slice(w.applied, upper)
	case upper < w.applied:
		sd.Direction = Backwards
		sd.Steps = w.log.Slice(upper, w.applied)
		slices.Reverse(sd.Steps)
	}
	return sd
}

// ApplySeekStep applies a single step of a seek. Steps must arrive in the
// order GetSeekData lists them.
func (w *Workspace) ApplySeekStep(step ir.Event, dir Direction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyStepLocked(step, dir)
}

func (w *Workspace) applyStepLocked(step ir.Event, dir Direction) error {
	switch dir {
	case Forwards:
		if w.applied >= w.log.Len() {
			return desyncf(step, "no unapplied events left")
		}
		if want := w.log.At(w.applied); want.ID != step.ID {
			return desyncf(step, "expected next event #%d", want.ID)
		}
		if err := w.applyForward(step); err != nil {
			return err
		}
		w.applied++
		w.clock = step.Clock

	case Backwards:
		if w.applied == 0 {
			return desyncf(step, "no applied events left")
		}
		if want := w.log.At(w.applied - 1); want.ID != step.ID {
			return desyncf(step, "expected last applied event #%d", want.ID)
		}
		if err := w.applyReverse(step); err != nil {
			return err
		}
		w.applied--
		w.clock = 0
		if w.applied > 0 {
			w.clock = w.log.At(w.applied - 1).Clock
		}

	default:
		return desyncf(step, "invalid direction %d", int(dir))
	}
	return nil
}

// SeekWithData applies all steps of sd at once and sets the clock. The URIs
// the steps touched are added to uris when it is non-nil.
func (w *Workspace) SeekWithData(sd SeekData, uris map[string]struct{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, step := range sd.Steps {
		if err := w.applyStepLocked(step, sd.Direction); err != nil {
			return err
		}
		if uris != nil {
			for _, uri := range TouchedURIs(step) {
				uris[uri] = struct{}{}
			}
		}
	}
	w.clock = min(max(sd.Clock, 0), w.durationLocked())

	slog.Debug("workspace seek",
		"direction", sd.Direction.String(),
		"steps", len(sd.Steps),
		"clock", w.clock,
		"applied", w.applied,
	)
	return nil
}

// SetClock sets the clock after a step-wise seek. The value is clamped to
// [0, duration].
func (w *Workspace) SetClock(clock float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = min(max(clock, 0), w.durationLocked())
}

// TouchedURIs returns the URIs whose state an event changes in either
// direction.
func TouchedURIs(ev ir.Event) []string {
	if ev.ShowTextEditor != nil && ev.ShowTextEditor.RevURI != "" && ev.ShowTextEditor.RevURI != ev.URI {
		return []string{ev.URI, ev.ShowTextEditor.RevURI}
	}
	return []string{ev.URI}
}

func desyncf(ev ir.Event, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrDesync, ev, fmt.Sprintf(format, args...))
}

func desyncErr(ev ir.Event, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDesync, ev, err)
}
