package ir

import "fmt"

// Position is a line and character position in a text document.
// Both are 0-indexed; Character counts UTF-16 code units.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// NewPosition creates a Position.
func NewPosition(line, character int) Position {
	return Position{Line: line, Character: character}
}

// String returns a human-readable representation of the position.
func (p Position) String() string {
	return fmt.Sprintf("(%d:%d)", p.Line, p.Character)
}

// Compare returns -1 if p < other, 0 if p == other, 1 if p > other.
func (p Position) Compare(other Position) int {
	if p.Line < other.Line {
		return -1
	}
	if p.Line > other.Line {
		return 1
	}
	if p.Character < other.Character {
		return -1
	}
	if p.Character > other.Character {
		return 1
	}
	return 0
}

// Before returns true if p comes before other.
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

// After returns true if p comes after other.
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// Range is a span of text between two positions, Start <= End.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// NewRange creates a Range from two positions, swapping them if needed so
// that Start <= End.
func NewRange(a, b Position) Range {
	if b.Before(a) {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// R is shorthand for NewRange(NewPosition(sl, sc), NewPosition(el, ec)).
func R(sl, sc, el, ec int) Range {
	return NewRange(NewPosition(sl, sc), NewPosition(el, ec))
}

// String returns a human-readable representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%s-%s]", r.Start, r.End)
}

// IsEmpty returns true if the range has zero length.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// IsValid returns true if Start <= End and no coordinate is negative.
func (r Range) IsValid() bool {
	if r.Start.Line < 0 || r.Start.Character < 0 || r.End.Line < 0 || r.End.Character < 0 {
		return false
	}
	return !r.End.Before(r.Start)
}

// Contains returns true if p lies within the range (both ends inclusive).
func (r Range) Contains(p Position) bool {
	return !p.Before(r.Start) && !p.After(r.End)
}

// Selection is an anchor and an active (caret) position. Anchor may come
// after Active; the order gives the selection direction.
type Selection struct {
	Anchor Position `json:"anchor"`
	Active Position `json:"active"`
}

// NewSelection creates a Selection.
func NewSelection(anchor, active Position) Selection {
	return Selection{Anchor: anchor, Active: active}
}

// Caret creates an empty selection at p.
func Caret(p Position) Selection {
	return Selection{Anchor: p, Active: p}
}

// Range returns the ordered span covered by the selection.
func (s Selection) Range() Range {
	return NewRange(s.Anchor, s.Active)
}

// IsReversed returns true if the caret is before the anchor.
func (s Selection) IsReversed() bool {
	return s.Active.Before(s.Anchor)
}

// CloneSelections returns a copy of sels. Nil stays nil.
func CloneSelections(sels []Selection) []Selection {
	if sels == nil {
		return nil
	}
	out := make([]Selection, len(sels))
	copy(out, sels)
	return out
}

// ContentChange replaces the text in Range with Text.
type ContentChange struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// String returns a human-readable representation of the change.
func (c ContentChange) String() string {
	return fmt.Sprintf("%s %q", c.Range, c.Text)
}
