package ir

import (
	"fmt"
	"math"
)

// EventType distinguishes editor event kinds.
type EventType int

const (
	// EventFsCreate records a file or directory appearing in the worktree.
	EventFsCreate EventType = iota + 1
	// EventFsDelete records a file or directory being removed.
	EventFsDelete
	// EventOpenTextDocument records a document becoming known to the workspace.
	EventOpenTextDocument
	// EventCloseTextDocument records an untitled document being discarded.
	EventCloseTextDocument
	// EventShowTextEditor records an editor becoming the active one.
	EventShowTextEditor
	// EventCloseTextEditor records an editor tab being closed.
	EventCloseTextEditor
	// EventTextChange records one batch of content changes.
	EventTextChange
	// EventSelect records a selection change without an edit.
	EventSelect
	// EventScroll records a viewport-only change.
	EventScroll
	// EventSave records a document being saved to disk.
	EventSave
)

var eventTypeNames = map[EventType]string{
	EventFsCreate:          "fsCreate",
	EventFsDelete:          "fsDelete",
	EventOpenTextDocument:  "openTextDocument",
	EventCloseTextDocument: "closeTextDocument",
	EventShowTextEditor:    "showTextEditor",
	EventCloseTextEditor:   "closeTextEditor",
	EventTextChange:        "textChange",
	EventSelect:            "select",
	EventScroll:            "scroll",
	EventSave:              "save",
}

// String returns the wire name of the event type.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType parses a wire name such as "textChange".
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	name, ok := eventTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %d", int(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(text []byte) error {
	v, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// FileType identifies what an fsCreate event created.
type FileType string

const (
	FileDir   FileType = "dir"
	FileBlob  FileType = "blob"
	FileEmpty FileType = "empty"
)

// FileRef identifies worktree file content. Blob content lives in the
// content-addressed blob store under Hash.
type FileRef struct {
	Type FileType `json:"type"`
	Hash string   `json:"hash,omitempty"`
}

// Validate checks that the reference is well formed.
func (f FileRef) Validate() error {
	switch f.Type {
	case FileDir, FileEmpty:
		if f.Hash != "" {
			return fmt.Errorf("%s file ref must not carry a hash", f.Type)
		}
	case FileBlob:
		if err := ValidateHash(f.Hash); err != nil {
			return fmt.Errorf("blob file ref: %w", err)
		}
	default:
		return fmt.Errorf("unknown file type %q", f.Type)
	}
	return nil
}

// IsText reports whether the file materializes as a text document.
func (f FileRef) IsText() bool {
	return f.Type == FileBlob || f.Type == FileEmpty
}

// FsCreate is the payload of an fsCreate event. The reverse is implicit:
// the path did not exist before.
type FsCreate struct {
	File FileRef `json:"file"`
}

// FsDelete is the payload of an fsDelete event. RevText, when present, is
// the document text at deletion time; otherwise the RevFile blob is used.
type FsDelete struct {
	RevFile FileRef   `json:"rev_file"`
	RevText *string   `json:"rev_text,omitempty"`
	RevEOL  EndOfLine `json:"rev_eol,omitempty"`
}

// OpenTextDocument is the payload of an openTextDocument event. A nil Text
// means the content comes from the worktree file.
type OpenTextDocument struct {
	Text         *string   `json:"text,omitempty"`
	EOL          EndOfLine `json:"eol"`
	IsInWorktree bool      `json:"is_in_worktree"`
}

// CloseTextDocument is the payload of a closeTextDocument event.
type CloseTextDocument struct {
	RevText string    `json:"rev_text"`
	RevEOL  EndOfLine `json:"rev_eol,omitempty"`
}

// ShowTextEditor is the payload of a showTextEditor event. Opened is true if
// the event created the editor. RevURI names the editor that was active
// before, with its view state in RevSelections and RevVisibleRange.
type ShowTextEditor struct {
	PreserveFocus   bool        `json:"preserve_focus,omitempty"`
	Selections      []Selection `json:"selections"`
	VisibleRange    Range       `json:"visible_range"`
	Opened          bool        `json:"opened,omitempty"`
	RevURI          string      `json:"rev_uri,omitempty"`
	RevSelections   []Selection `json:"rev_selections,omitempty"`
	RevVisibleRange *Range      `json:"rev_visible_range,omitempty"`
}

// CloseTextEditor is the payload of a closeTextEditor event.
type CloseTextEditor struct {
	RevSelections   []Selection `json:"rev_selections"`
	RevVisibleRange Range       `json:"rev_visible_range"`
	RevActive       bool        `json:"rev_active,omitempty"`
}

// RecordedChange is one content change with its inverse.
type RecordedChange struct {
	Range    Range  `json:"range"`
	Text     string `json:"text"`
	RevRange Range  `json:"rev_range"`
	RevText  string `json:"rev_text"`
}

// TextChange is the payload of a textChange event. Changes are sorted by
// position and non-overlapping; the reverse changes are applied in the same
// order.
type TextChange struct {
	ContentChanges []RecordedChange `json:"content_changes"`
}

// Forward returns the forward changes in application order.
func (tc *TextChange) Forward() []ContentChange {
	out := make([]ContentChange, len(tc.ContentChanges))
	for i, c := range tc.ContentChanges {
		out[i] = ContentChange{Range: c.Range, Text: c.Text}
	}
	return out
}

// Reverse returns the reverse changes in application order.
func (tc *TextChange) Reverse() []ContentChange {
	out := make([]ContentChange, len(tc.ContentChanges))
	for i, c := range tc.ContentChanges {
		out[i] = ContentChange{Range: c.RevRange, Text: c.RevText}
	}
	return out
}

// Select is the payload of a select event.
type Select struct {
	Selections      []Selection `json:"selections"`
	VisibleRange    Range       `json:"visible_range"`
	RevSelections   []Selection `json:"rev_selections"`
	RevVisibleRange Range       `json:"rev_visible_range"`
}

// Scroll is the payload of a scroll event.
type Scroll struct {
	VisibleRange    Range `json:"visible_range"`
	RevVisibleRange Range `json:"rev_visible_range"`
}

// Save is the payload of a save event.
type Save struct{}

// Event is one recorded editor action. Exactly one payload pointer is set,
// the one selected by Type.
type Event struct {
	ID    int64     `json:"id"`
	Clock float64   `json:"clock"`
	URI   string    `json:"uri"`
	Type  EventType `json:"type"`

	FsCreate          *FsCreate          `json:"fs_create,omitempty"`
	FsDelete          *FsDelete          `json:"fs_delete,omitempty"`
	OpenTextDocument  *OpenTextDocument  `json:"open_text_document,omitempty"`
	CloseTextDocument *CloseTextDocument `json:"close_text_document,omitempty"`
	ShowTextEditor    *ShowTextEditor    `json:"show_text_editor,omitempty"`
	CloseTextEditor   *CloseTextEditor   `json:"close_text_editor,omitempty"`
	TextChange        *TextChange        `json:"text_change,omitempty"`
	Select            *Select            `json:"select,omitempty"`
	Scroll            *Scroll            `json:"scroll,omitempty"`
	Save              *Save              `json:"save,omitempty"`
}

// String returns a short description of the event.
func (e Event) String() string {
	return fmt.Sprintf("#%d@%g %s %s", e.ID, e.Clock, e.Type, e.URI)
}

// payloadCount returns the number of payload pointers set.
func (e *Event) payloadCount() int {
	n := 0
	for _, set := range []bool{
		e.FsCreate != nil, e.FsDelete != nil, e.OpenTextDocument != nil,
		e.CloseTextDocument != nil, e.ShowTextEditor != nil, e.CloseTextEditor != nil,
		e.TextChange != nil, e.Select != nil, e.Scroll != nil, e.Save != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// HasPayload reports whether the payload selected by Type is set.
func (e *Event) HasPayload() bool {
	switch e.Type {
	case EventFsCreate:
		return e.FsCreate != nil
	case EventFsDelete:
		return e.FsDelete != nil
	case EventOpenTextDocument:
		return e.OpenTextDocument != nil
	case EventCloseTextDocument:
		return e.CloseTextDocument != nil
	case EventShowTextEditor:
		return e.ShowTextEditor != nil
	case EventCloseTextEditor:
		return e.CloseTextEditor != nil
	case EventTextChange:
		return e.TextChange != nil
	case EventSelect:
		return e.Select != nil
	case EventScroll:
		return e.Scroll != nil
	case EventSave:
		return e.Save != nil
	default:
		return false
	}
}

// Validate checks the structural invariants of the event: a known type,
// exactly the matching payload, a valid URI and a finite non-negative clock.
func (e *Event) Validate() error {
	if _, ok := eventTypeNames[e.Type]; !ok {
		return fmt.Errorf("event %d: unknown type %d", e.ID, int(e.Type))
	}
	if !e.HasPayload() || e.payloadCount() != 1 {
		return fmt.Errorf("event %d: type %s requires exactly its own payload", e.ID, e.Type)
	}
	if math.IsNaN(e.Clock) || math.IsInf(e.Clock, 0) || e.Clock < 0 {
		return fmt.Errorf("event %d: invalid clock %v", e.ID, e.Clock)
	}
	if _, _, err := SplitURI(e.URI); err != nil {
		return fmt.Errorf("event %d: %w", e.ID, err)
	}

	switch e.Type {
	case EventFsCreate:
		if err := e.FsCreate.File.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", e.ID, err)
		}
	case EventFsDelete:
		if err := e.FsDelete.RevFile.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", e.ID, err)
		}
	case EventOpenTextDocument:
		if !e.OpenTextDocument.EOL.IsValid() {
			return fmt.Errorf("event %d: openTextDocument requires an eol", e.ID)
		}
	case EventTextChange:
		if len(e.TextChange.ContentChanges) == 0 {
			return fmt.Errorf("event %d: textChange has no content changes", e.ID)
		}
		for i, c := range e.TextChange.ContentChanges {
			if !c.Range.IsValid() || !c.RevRange.IsValid() {
				return fmt.Errorf("event %d: content change %d has an invalid range", e.ID, i)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.FsCreate != nil {
		v := *e.FsCreate
		out.FsCreate = &v
	}
	if e.FsDelete != nil {
		v := *e.FsDelete
		v.RevText = cloneString(e.FsDelete.RevText)
		out.FsDelete = &v
	}
	if e.OpenTextDocument != nil {
		v := *e.OpenTextDocument
		v.Text = cloneString(e.OpenTextDocument.Text)
		out.OpenTextDocument = &v
	}
	if e.CloseTextDocument != nil {
		v := *e.CloseTextDocument
		out.CloseTextDocument = &v
	}
	if e.ShowTextEditor != nil {
		v := *e.ShowTextEditor
		v.Selections = CloneSelections(e.ShowTextEditor.Selections)
		v.RevSelections = CloneSelections(e.ShowTextEditor.RevSelections)
		if e.ShowTextEditor.RevVisibleRange != nil {
			r := *e.ShowTextEditor.RevVisibleRange
			v.RevVisibleRange = &r
		}
		out.ShowTextEditor = &v
	}
	if e.CloseTextEditor != nil {
		v := *e.CloseTextEditor
		v.RevSelections = CloneSelections(e.CloseTextEditor.RevSelections)
		out.CloseTextEditor = &v
	}
	if e.TextChange != nil {
		v := TextChange{}
		if e.TextChange.ContentChanges != nil {
			v.ContentChanges = make([]RecordedChange, len(e.TextChange.ContentChanges))
			copy(v.ContentChanges, e.TextChange.ContentChanges)
		}
		out.TextChange = &v
	}
	if e.Select != nil {
		v := *e.Select
		v.Selections = CloneSelections(e.Select.Selections)
		v.RevSelections = CloneSelections(e.Select.RevSelections)
		out.Select = &v
	}
	if e.Scroll != nil {
		v := *e.Scroll
		out.Scroll = &v
	}
	if e.Save != nil {
		out.Save = &Save{}
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Constructors below fill forward data only. Reverse data is filled in by the
// workspace when the event is recorded against a live simulation.

// NewFsCreate creates an fsCreate event.
func NewFsCreate(clock float64, uri string, file FileRef) Event {
	return Event{Clock: clock, URI: uri, Type: EventFsCreate, FsCreate: &FsCreate{File: file}}
}

// NewFsDelete creates an fsDelete event.
func NewFsDelete(clock float64, uri string) Event {
	return Event{Clock: clock, URI: uri, Type: EventFsDelete, FsDelete: &FsDelete{}}
}

// NewOpenTextDocument creates an openTextDocument event. A nil text means
// the document content comes from the worktree.
func NewOpenTextDocument(clock float64, uri string, text *string, eol EndOfLine) Event {
	return Event{
		Clock: clock, URI: uri, Type: EventOpenTextDocument,
		OpenTextDocument: &OpenTextDocument{Text: text, EOL: eol, IsInWorktree: IsWorkspaceURI(uri)},
	}
}

// NewCloseTextDocument creates a closeTextDocument event.
func NewCloseTextDocument(clock float64, uri string) Event {
	return Event{Clock: clock, URI: uri, Type: EventCloseTextDocument, CloseTextDocument: &CloseTextDocument{}}
}

// NewShowTextEditor creates a showTextEditor event.
func NewShowTextEditor(clock float64, uri string, selections []Selection, visible Range) Event {
	return Event{
		Clock: clock, URI: uri, Type: EventShowTextEditor,
		ShowTextEditor: &ShowTextEditor{Selections: selections, VisibleRange: visible},
	}
}

// NewCloseTextEditor creates a closeTextEditor event.
func NewCloseTextEditor(clock float64, uri string) Event {
	return Event{Clock: clock, URI: uri, Type: EventCloseTextEditor, CloseTextEditor: &CloseTextEditor{}}
}

// NewTextChange creates a textChange event from forward changes.
func NewTextChange(clock float64, uri string, changes ...ContentChange) Event {
	recorded := make([]RecordedChange, len(changes))
	for i, c := range changes {
		recorded[i] = RecordedChange{Range: c.Range, Text: c.Text}
	}
	return Event{Clock: clock, URI: uri, Type: EventTextChange, TextChange: &TextChange{ContentChanges: recorded}}
}

// NewSelect creates a select event.
func NewSelect(clock float64, uri string, selections []Selection, visible Range) Event {
	return Event{
		Clock: clock, URI: uri, Type: EventSelect,
		Select: &Select{Selections: selections, VisibleRange: visible},
	}
}

// NewScroll creates a scroll event.
func NewScroll(clock float64, uri string, visible Range) Event {
	return Event{Clock: clock, URI: uri, Type: EventScroll, Scroll: &Scroll{VisibleRange: visible}}
}

// NewSave creates a save event.
func NewSave(clock float64, uri string) Event {
	return Event{Clock: clock, URI: uri, Type: EventSave, Save: &Save{}}
}
