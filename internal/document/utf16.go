package document

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// len16 returns the length of s in UTF-16 code units. Invalid UTF-8 bytes
// count as one unit each, matching their U+FFFD replacement.
func len16(s string) int {
	n := 0
	for _, r := range s {
		if k := utf16.RuneLen(r); k > 0 {
			n += k
		} else {
			n++
		}
	}
	return n
}

// byteOffset converts a UTF-16 character offset within line to a byte offset.
func byteOffset(line string, char int) (int, error) {
	if char < 0 {
		return 0, fmt.Errorf("%w: negative character %d", ErrRangeOutOfBounds, char)
	}
	units := 0
	for i, r := range line {
		if units == char {
			return i, nil
		}
		k := utf16.RuneLen(r)
		if k <= 0 {
			k = 1
		}
		if units+k > char {
			return 0, fmt.Errorf("%w: character %d splits a surrogate pair", ErrRangeOutOfBounds, char)
		}
		units += k
	}
	if units == char {
		return len(line), nil
	}
	return 0, fmt.Errorf("%w: character %d past line length %d", ErrRangeOutOfBounds, char, units)
}

// IsText reports whether b can be loaded as a document: valid UTF-8 without
// NUL bytes.
func IsText(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return utf8.Valid(b)
}
