// Package document implements the in-memory text document and editor state
// that the workspace simulation replays events against.
//
// Text is stored as a slice of lines without terminators. All character
// offsets are UTF-16 code units.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/codetape/internal/ir"
)

var (
	// ErrRangeOutOfBounds is returned when a position lies outside the document.
	ErrRangeOutOfBounds = errors.New("range out of bounds")

	// ErrEditsOverlap is returned when a batch of changes is not sorted and
	// non-overlapping.
	ErrEditsOverlap = errors.New("content changes overlap")
)

// Document is an in-memory text document.
type Document struct {
	uri   string
	lines []string
	eol   ir.EndOfLine
}

// FromText creates a document. The end of line is taken from the first line
// break in text, falling back to defaultEOL when text has none.
func FromText(uri, text string, defaultEOL ir.EndOfLine) *Document {
	eol := defaultEOL
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		eol = ir.LF
		if i > 0 && text[i-1] == '\r' {
			eol = ir.CRLF
		}
	}
	if !eol.IsValid() {
		eol = ir.LF
	}
	return &Document{uri: uri, lines: splitLines(text), eol: eol}
}

// splitLines splits on \r?\n. The result always has at least one line.
func splitLines(text string) []string {
	if !strings.Contains(text, "\n") {
		return []string{text}
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// URI returns the document URI.
func (d *Document) URI() string { return d.uri }

// EOL returns the document's end of line sequence.
func (d *Document) EOL() ir.EndOfLine { return d.eol }

// LineCount returns the number of lines, always at least one.
func (d *Document) LineCount() int { return len(d.lines) }

// Line returns line i without its terminator.
func (d *Document) Line(i int) string { return d.lines[i] }

// GetText returns the full text joined with the document EOL.
func (d *Document) GetText() string {
	return strings.Join(d.lines, d.eol.Sequence())
}

// SetText replaces the whole content, keeping the EOL.
func (d *Document) SetText(text string) {
	d.lines = splitLines(text)
}

// SetEOL changes the end of line used by GetText.
func (d *Document) SetEOL(eol ir.EndOfLine) {
	if eol.IsValid() {
		d.eol = eol
	}
}

// Range returns the range covering the whole document.
func (d *Document) Range() ir.Range {
	last := len(d.lines) - 1
	return ir.R(0, 0, last, len16(d.lines[last]))
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	lines := make([]string, len(d.lines))
	copy(lines, d.lines)
	return &Document{uri: d.uri, lines: lines, eol: d.eol}
}

// offsets resolves p to a line index and byte offset.
func (d *Document) offsets(p ir.Position) (int, error) {
	if p.Line < 0 || p.Line >= len(d.lines) {
		return 0, fmt.Errorf("%w: line %d not in [0,%d)", ErrRangeOutOfBounds, p.Line, len(d.lines))
	}
	return byteOffset(d.lines[p.Line], p.Character)
}

// ValidateRange checks that both ends of r lie inside the document.
func (d *Document) ValidateRange(r ir.Range) error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: inverted range %s", ErrRangeOutOfBounds, r)
	}
	if _, err := d.offsets(r.Start); err != nil {
		return err
	}
	_, err := d.offsets(r.End)
	return err
}

// GetTextRange returns the text covered by r, with line breaks as the
// document EOL.
func (d *Document) GetTextRange(r ir.Range) (string, error) {
	if r.End.Before(r.Start) {
		return "", fmt.Errorf("%w: inverted range %s", ErrRangeOutOfBounds, r)
	}
	sb, err := d.offsets(r.Start)
	if err != nil {
		return "", err
	}
	eb, err := d.offsets(r.End)
	if err != nil {
		return "", err
	}
	if r.Start.Line == r.End.Line {
		return d.lines[r.Start.Line][sb:eb], nil
	}

	var b strings.Builder
	sep := d.eol.Sequence()
	b.WriteString(d.lines[r.Start.Line][sb:])
	for i := r.Start.Line + 1; i < r.End.Line; i++ {
		b.WriteString(sep)
		b.WriteString(d.lines[i])
	}
	b.WriteString(sep)
	b.WriteString(d.lines[r.End.Line][:eb])
	return b.String(), nil
}

// replace splices text over [s, e] and returns the end of the inserted text
// and the replaced text.
func (d *Document) replace(s, e ir.Position, text string) (ir.Position, string, error) {
	old, err := d.GetTextRange(ir.Range{Start: s, End: e})
	if err != nil {
		return ir.Position{}, "", err
	}
	sb, _ := d.offsets(s)
	eb, _ := d.offsets(e)

	prefix := d.lines[s.Line][:sb]
	suffix := d.lines[e.Line][eb:]
	inserted := splitLines(text)
	last := len(inserted) - 1

	var end ir.Position
	if last == 0 {
		end = ir.NewPosition(s.Line, s.Character+len16(inserted[0]))
	} else {
		end = ir.NewPosition(s.Line+last, len16(inserted[last]))
	}

	inserted[0] = prefix + inserted[0]
	inserted[last] += suffix

	lines := make([]string, 0, len(d.lines)-(e.Line-s.Line)+last)
	lines = append(lines, d.lines[:s.Line]...)
	lines = append(lines, inserted...)
	lines = append(lines, d.lines[e.Line+1:]...)
	d.lines = lines
	return end, old, nil
}

// ApplyContentChanges applies a batch of changes whose ranges all refer to the
// document as it was before the batch. Changes must be sorted by position and
// must not overlap. It returns the reverse changes: applied in the same order
// to the resulting document they restore the original text.
//
// The batch is applied in a single pass, shifting each range by the line and
// character deltas of the changes before it. On error the document is left
// unchanged.
//
// Reverse changes are always returned: they also roll back a failed batch.
// Callers that only move forwards discard them.
func (d *Document) ApplyContentChanges(changes []ir.ContentChange) ([]ir.ContentChange, error) {
	reverse := make([]ir.ContentChange, 0, len(changes))

	var (
		totalLineShift    int
		lastLineShifted   = -1
		lastLineCharShift int
		prevEnd           ir.Position
	)
	for i, c := range changes {
		if !c.Range.IsValid() {
			d.rollback(reverse)
			return nil, fmt.Errorf("%w: change %d has invalid range %s", ErrRangeOutOfBounds, i, c.Range)
		}
		if i > 0 && c.Range.Start.Before(prevEnd) {
			d.rollback(reverse)
			return nil, fmt.Errorf("%w: change %d starts at %s before %s", ErrEditsOverlap, i, c.Range.Start, prevEnd)
		}
		prevEnd = c.Range.End

		s := shift(c.Range.Start, totalLineShift, lastLineShifted, lastLineCharShift)
		e := shift(c.Range.End, totalLineShift, lastLineShifted, lastLineCharShift)

		end, old, err := d.replace(s, e, c.Text)
		if err != nil {
			d.rollback(reverse)
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		reverse = append(reverse, ir.ContentChange{Range: ir.Range{Start: s, End: end}, Text: old})

		totalLineShift += end.Line - e.Line
		lastLineShifted = c.Range.End.Line
		lastLineCharShift = end.Character - c.Range.End.Character
	}
	return reverse, nil
}

// shift maps an original-coordinate position into the partially edited
// document. The character shift only applies on the line where the previous
// change ended.
func shift(p ir.Position, lineShift, lastLine, charShift int) ir.Position {
	out := ir.NewPosition(p.Line+lineShift, p.Character)
	if p.Line == lastLine {
		out.Character += charShift
	}
	return out
}

// rollback undoes a partially applied batch.
func (d *Document) rollback(reverse []ir.ContentChange) {
	if len(reverse) == 0 {
		return
	}
	if _, err := d.ApplyContentChanges(reverse); err != nil {
		panic(fmt.Sprintf("document %s: rollback failed: %v", d.uri, err))
	}
}
