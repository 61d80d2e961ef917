package document

import "github.com/roach88/codetape/internal/ir"

// Editor is the view state of an editor tab. It references its document by
// URI; the workspace owns both.
type Editor struct {
	URI          string         `json:"uri"`
	Selections   []ir.Selection `json:"selections"`
	VisibleRange ir.Range       `json:"visible_range"`
}

// NewEditor creates an editor. A nil selection list becomes a caret at the
// document start.
func NewEditor(uri string, selections []ir.Selection, visible ir.Range) *Editor {
	if len(selections) == 0 {
		selections = []ir.Selection{ir.Caret(ir.NewPosition(0, 0))}
	}
	return &Editor{URI: uri, Selections: ir.CloneSelections(selections), VisibleRange: visible}
}

// Clone returns a deep copy.
func (e *Editor) Clone() *Editor {
	return &Editor{URI: e.URI, Selections: ir.CloneSelections(e.Selections), VisibleRange: e.VisibleRange}
}

// SetView replaces selections and visible range.
func (e *Editor) SetView(selections []ir.Selection, visible ir.Range) {
	e.Selections = ir.CloneSelections(selections)
	e.VisibleRange = visible
}
