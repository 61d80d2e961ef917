package workspace

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/codetape/internal/ir"
)

// DocumentState is the comparable state of a document.
type DocumentState struct {
	Text string       `json:"text"`
	EOL  ir.EndOfLine `json:"eol"`
}

// EditorState is the comparable state of an editor.
type EditorState struct {
	Selections   []ir.Selection `json:"selections"`
	VisibleRange ir.Range       `json:"visible_range"`
}

// Snapshot is a deep copy of the simulated state.
type Snapshot struct {
	Clock     float64                  `json:"clock"`
	Applied   int                      `json:"applied"`
	Worktree  map[string]ir.FileRef    `json:"worktree"`
	Documents map[string]DocumentState `json:"documents"`
	Editors   map[string]EditorState   `json:"editors"`
	Active    string                   `json:"active,omitempty"`
}

// Snapshot captures the current state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Snapshot{
		Clock:     w.clock,
		Applied:   w.applied,
		Worktree:  maps.Clone(w.worktree),
		Documents: make(map[string]DocumentState, len(w.docs)),
		Editors:   make(map[string]EditorState, len(w.editors)),
		Active:    w.active,
	}
	for uri, doc := range w.docs {
		s.Documents[uri] = DocumentState{Text: doc.GetText(), EOL: doc.EOL()}
	}
	for uri, ed := range w.editors {
		s.Editors[uri] = EditorState{Selections: ir.CloneSelections(ed.Selections), VisibleRange: ed.VisibleRange}
	}
	return s
}

// Summary renders the snapshot as sorted lines for traces and diffs.
func (s Snapshot) Summary() string {
	var b strings.Builder
	for _, uri := range slices.Sorted(maps.Keys(s.Worktree)) {
		f := s.Worktree[uri]
		if f.Hash != "" {
			fmt.Fprintf(&b, "file %s %s %s\n", uri, f.Type, f.Hash[:min(8, len(f.Hash))])
		} else {
			fmt.Fprintf(&b, "file %s %s\n", uri, f.Type)
		}
	}
	for _, uri := range slices.Sorted(maps.Keys(s.Documents)) {
		fmt.Fprintf(&b, "doc %s %q\n", uri, s.Documents[uri].Text)
	}
	for _, uri := range slices.Sorted(maps.Keys(s.Editors)) {
		ed := s.Editors[uri]
		marker := ""
		if uri == s.Active {
			marker = " active"
		}
		sels := make([]string, len(ed.Selections))
		for i, sel := range ed.Selections {
			sels[i] = fmt.Sprintf("%s>%s", sel.Anchor, sel.Active)
		}
		fmt.Fprintf(&b, "editor %s sel=[%s] visible=%s%s\n", uri, strings.Join(sels, " "), ed.VisibleRange, marker)
	}
	return b.String()
}

// Equal reports whether two snapshots describe the same editor state,
// ignoring the clock.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Applied == o.Applied && s.Summary() == o.Summary() && maps.Equal(s.Documents, o.Documents)
}
