package workspace

import (
	"github.com/roach88/codetape/internal/document"
	"github.com/roach88/codetape/internal/ir"
)

// applyForward applies ev to the state. State is only changed when the
// event applies cleanly.
func (w *Workspace) applyForward(ev ir.Event) error {
	switch ev.Type {
	case ir.EventFsCreate:
		if _, ok := w.worktree[ev.URI]; ok {
			return desyncf(ev, "path already exists")
		}
		if _, ok := w.docs[ev.URI]; ok {
			return desyncf(ev, "document already open")
		}
		doc, err := w.fileDocument(ev.URI, ev.FsCreate.File)
		if err != nil {
			return desyncErr(ev, err)
		}
		w.worktree[ev.URI] = ev.FsCreate.File
		if doc != nil {
			w.docs[ev.URI] = doc
		}

	case ir.EventFsDelete:
		if _, ok := w.worktree[ev.URI]; !ok {
			return desyncf(ev, "path does not exist")
		}
		delete(w.worktree, ev.URI)
		delete(w.docs, ev.URI)

	case ir.EventOpenTextDocument:
		p := ev.OpenTextDocument
		if _, ok := w.docs[ev.URI]; ok {
			if p.IsInWorktree {
				// Opening a worktree file that is already loaded.
				return nil
			}
			return desyncf(ev, "document already open")
		}
		var text string
		switch {
		case p.Text != nil:
			text = *p.Text
		case p.IsInWorktree:
			f, ok := w.worktree[ev.URI]
			if !ok || !f.IsText() {
				return desyncf(ev, "no text file in the worktree")
			}
			data, err := w.fileText(f)
			if err != nil {
				return desyncErr(ev, err)
			}
			text = data
		}
		w.docs[ev.URI] = document.FromText(ev.URI, text, p.EOL)

	case ir.EventCloseTextDocument:
		if _, ok := w.docs[ev.URI]; !ok {
			return desyncf(ev, "document not open")
		}
		if !ir.IsWorkspaceURI(ev.URI) {
			delete(w.docs, ev.URI)
		}

	case ir.EventShowTextEditor:
		p := ev.ShowTextEditor
		if _, ok := w.docs[ev.URI]; !ok {
			return desyncf(ev, "document not open")
		}
		ed, ok := w.editors[ev.URI]
		if !ok {
			ed = document.NewEditor(ev.URI, p.Selections, p.VisibleRange)
			w.editors[ev.URI] = ed
		} else if p.Selections != nil {
			ed.SetView(p.Selections, p.VisibleRange)
		} else {
			ed.VisibleRange = p.VisibleRange
		}
		w.active = ev.URI

	case ir.EventCloseTextEditor:
		if _, ok := w.editors[ev.URI]; !ok {
			return desyncf(ev, "editor not open")
		}
		delete(w.editors, ev.URI)
		if w.active == ev.URI {
			w.active = ""
		}

	case ir.EventTextChange:
		doc, ok := w.docs[ev.URI]
		if !ok {
			return desyncf(ev, "document not open")
		}
		if _, err := doc.ApplyContentChanges(ev.TextChange.Forward()); err != nil {
			return desyncErr(ev, err)
		}

	case ir.EventSelect:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(ev, "editor not open")
		}
		ed.SetView(ev.Select.Selections, ev.Select.VisibleRange)

	case ir.EventScroll:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(ev, "editor not open")
		}
		ed.VisibleRange = ev.Scroll.VisibleRange

	case ir.EventSave:

	default:
		return desyncf(ev, "unknown event type")
	}
	return nil
}

// applyReverse undoes ev using its reverse data.
func (w *Workspace) applyReverse(ev ir.Event) error {
	switch ev.Type {
	case ir.EventFsCreate:
		if _, ok := w.worktree[ev.URI]; !ok {
			return desyncf(ev, "path does not exist")
		}
		delete(w.worktree, ev.URI)
		delete(w.docs, ev.URI)

	case ir.EventFsDelete:
		p := ev.FsDelete
		if _, ok := w.worktree[ev.URI]; ok {
			return desyncf(ev, "path already exists")
		}
		var doc *document.Document
		if p.RevText != nil {
			eol := p.RevEOL
			if !eol.IsValid() {
				eol = w.defaultEOL
			}
			doc = document.FromText(ev.URI, *p.RevText, eol)
			doc.SetEOL(eol)
		} else {
			var err error
			if doc, err = w.fileDocument(ev.URI, p.RevFile); err != nil {
				return desyncErr(ev, err)
			}
		}
		w.worktree[ev.URI] = p.RevFile
		if doc != nil {
			w.docs[ev.URI] = doc
		}

	case ir.EventOpenTextDocument:
		if _, ok := w.docs[ev.URI]; !ok {
			return desyncf(ev, "document not open")
		}
		if !ev.OpenTextDocument.IsInWorktree {
			delete(w.docs, ev.URI)
		}

	case ir.EventCloseTextDocument:
		if ir.IsWorkspaceURI(ev.URI) {
			return nil
		}
		if _, ok := w.docs[ev.URI]; ok {
			return desyncf(ev, "document already open")
		}
		doc := document.FromText(ev.URI, ev.CloseTextDocument.RevText, ev.CloseTextDocument.RevEOL)
		doc.SetEOL(ev.CloseTextDocument.RevEOL)
		w.docs[ev.URI] = doc

	case ir.EventShowTextEditor:
		p := ev.ShowTextEditor
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(ev, "editor not open")
		}
		if p.Opened {
			delete(w.editors, ev.URI)
		} else if p.RevVisibleRange != nil {
			ed.SetView(p.RevSelections, *p.RevVisibleRange)
		}
		w.active = p.RevURI

	case ir.EventCloseTextEditor:
		p := ev.CloseTextEditor
		if _, ok := w.editors[ev.URI]; ok {
			return desyncf(ev, "editor already open")
		}
		w.editors[ev.URI] = document.NewEditor(ev.URI, p.RevSelections, p.RevVisibleRange)
		if p.RevActive {
			w.active = ev.URI
		}

	case ir.EventTextChange:
		doc, ok := w.docs[ev.URI]
		if !ok {
			return desyncf(ev, "document not open")
		}
		if _, err := doc.ApplyContentChanges(ev.TextChange.Reverse()); err != nil {
			return desyncErr(ev, err)
		}

	case ir.EventSelect:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(ev, "editor not open")
		}
		ed.SetView(ev.Select.RevSelections, ev.Select.RevVisibleRange)

	case ir.EventScroll:
		ed, ok := w.editors[ev.URI]
		if !ok {
			return desyncf(ev, "editor not open")
		}
		ed.VisibleRange = ev.Scroll.RevVisibleRange

	case ir.EventSave:

	default:
		return desyncf(ev, "unknown event type")
	}
	return nil
}

// fileDocument builds the document for a worktree file, or nil when the file
// is a directory or binary.
func (w *Workspace) fileDocument(uri string, f ir.FileRef) (*document.Document, error) {
	if !f.IsText() {
		return nil, nil
	}
	if f.Type == ir.FileEmpty {
		return document.FromText(uri, "", w.defaultEOL), nil
	}
	data, err := w.blob(f.Hash)
	if err != nil {
		return nil, err
	}
	if !document.IsText(data) {
		return nil, nil
	}
	return document.FromText(uri, string(data), w.defaultEOL), nil
}

// fileText returns the text content of a worktree file.
func (w *Workspace) fileText(f ir.FileRef) (string, error) {
	if f.Type == ir.FileEmpty {
		return "", nil
	}
	data, err := w.blob(f.Hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
