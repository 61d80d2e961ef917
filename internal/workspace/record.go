package workspace

import (
	"fmt"
	"log/slog"

	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
)

// RecordEvent records a new event at the end of the log. The event's reverse
// data is filled from the current state, the event is applied, and it is
// appended to the log. The clock is raised to the current clock if needed.
// The stored event is returned.
func (w *Workspace) RecordEvent(ev ir.Event) (ir.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.log.IsRecording() {
		return ir.Event{}, eventlog.ErrNotRecording
	}
	if w.applied != w.log.Len() {
		return ir.Event{}, fmt.Errorf("%w: %d of %d events applied", ErrNotAtEnd, w.applied, w.log.Len())
	}

	ev = ev.Clone()
	ev.Clock = max(ev.Clock, w.clock, w.log.Duration())
	if !ev.HasPayload() {
		return ir.Event{}, fmt.Errorf("record: event %s has no %s payload", ev, ev.Type)
	}
	if err := w.fillReverse(&ev); err != nil {
		return ir.Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return ir.Event{}, fmt.Errorf("record: %w", err)
	}
	if err := w.applyRecorded(&ev); err != nil {
		return ir.Event{}, err
	}

	stored, err := w.log.Append(ev)
	if err != nil {
		if rerr := w.applyReverse(ev); rerr != nil {
			return ir.Event{}, fmt.Errorf("record: %w (rollback: %v)", err, rerr)
		}
		return ir.Event{}, fmt.Errorf("record: %w", err)
	}
	w.applied++
	w.clock = stored.Clock

	slog.Debug("event recorded", "event", stored.String())
	return stored, nil
}

// applyRecorded applies a new event. The reverse of a text change is a
// by-product of applying it, so it is filled in here.
func (w *Workspace) applyRecorded(ev *ir.Event) error {
	if ev.Type != ir.EventTextChange {
		return w.applyForward(*ev)
	}
	doc, ok := w.docs[ev.URI]
	if !ok {
		return desyncf(*ev, "document not open")
	}
	reverse, err := doc.ApplyContentChanges(ev.TextChange.Forward())
	if err != nil {
		return desyncErr(*ev, err)
	}
	for i := range ev.TextChange.ContentChanges {
		ev.TextChange.ContentChanges[i].RevRange = reverse[i].Range
		ev.TextChange.ContentChanges[i].RevText = reverse[i].Text
	}
	return nil
}

// fillReverse completes ev's reverse data from the current state.
func (w *Workspace) fillReverse(ev *ir.Event) error {
	switch ev.Type {
	case ir.EventFsDelete:
		f, ok := w.worktree[ev.URI]
		if !ok {
			return desyncf(*ev, "path does not exist")
		}
		ev.FsDelete.RevFile = f
		ev.FsDelete.RevText = nil
		ev.FsDelete.RevEOL = 0
		if doc, ok := w.docs[ev.URI]; ok {
			ev.FsDelete.RevText = ir.StringPtr(doc.GetText())
			ev.FsDelete.RevEOL = doc.EOL()
		}

	case ir.EventCloseTextDocument:
		doc, ok := w.docs[ev.URI]
		if !ok {
			return desyncf(*ev, "document not open")
		}
		ev.CloseTextDocument.RevText = doc.GetText()
		ev.CloseTextDocument.RevEOL = doc.EOL()

	case ir.EventShowTextEditor:
		p := ev.ShowTextEditor
		p.RevURI = w.active
		p.RevSelections = nil
		p.RevVisibleRange = nil
		ed, ok := w.editors[ev.URI]
		p.Opened = !ok
		if ok {
			p.RevSelections = ir.CloneSelections(ed.Selections)
			visible := ed.VisibleRange
			p.RevVisibleRange = &visible
			if p.Selections == nil {
				p.Selections = ir.CloneSelections(ed.Selections)
			}
		}

	case ir.EventCloseTextEditor:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(*ev, "editor not open")
		}
		ev.CloseTextEditor.RevSelections = ir.CloneSelections(ed.Selections)
		ev.CloseTextEditor.RevVisibleRange = ed.VisibleRange
		ev.CloseTextEditor.RevActive = w.active == ev.URI

	case ir.EventSelect:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(*ev, "editor not open")
		}
		ev.Select.RevSelections = ir.CloneSelections(ed.Selections)
		ev.Select.RevVisibleRange = ed.VisibleRange

	case ir.EventScroll:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(*ev, "editor not open")
		}
		ev.Scroll.RevVisibleRange = ed.VisibleRange
	}
	return nil
}
