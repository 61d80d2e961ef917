package document

import (
	"strings"
	"unicode/utf8"

	"github.com/roach88/codetape/internal/ir"
)

// Diff returns the single content change that turns the document's text
// into newText: the span between their common prefix and common suffix.
// Line breaks compare equal whatever their sequence. ok is false when the
// texts are already equal.
func (d *Document) Diff(newText string) (change ir.ContentChange, ok bool) {
	oldText := strings.Join(d.lines, "\n")
	newText = strings.ReplaceAll(newText, "\r\n", "\n")
	if oldText == newText {
		return ir.ContentChange{}, false
	}

	n := min(len(oldText), len(newText))
	pre := 0
	for pre < n && oldText[pre] == newText[pre] {
		pre++
	}
	for pre > 0 && pre < len(oldText) && !utf8.RuneStart(oldText[pre]) {
		pre--
	}

	suf := 0
	for suf < n-pre && oldText[len(oldText)-1-suf] == newText[len(newText)-1-suf] {
		suf++
	}
	for suf > 0 && !utf8.RuneStart(oldText[len(oldText)-suf]) {
		suf--
	}

	start := positionAt(oldText, pre)
	end := positionAt(oldText, len(oldText)-suf)
	return ir.ContentChange{
		Range: ir.Range{Start: start, End: end},
		Text:  newText[pre : len(newText)-suf],
	}, true
}

// positionAt converts a byte offset in LF-joined text to a position.
func positionAt(text string, off int) ir.Position {
	head := text[:off]
	line := strings.Count(head, "\n")
	if i := strings.LastIndexByte(head, '\n'); i >= 0 {
		head = head[i+1:]
	}
	return ir.NewPosition(line, len16(head))
}
