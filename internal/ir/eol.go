package ir

import "fmt"

// EndOfLine is the line terminator used by a document.
type EndOfLine int

const (
	// LF is "\n".
	LF EndOfLine = iota + 1
	// CRLF is "\r\n".
	CRLF
)

// String returns the JSON name of the line ending.
func (e EndOfLine) String() string {
	switch e {
	case LF:
		return "lf"
	case CRLF:
		return "crlf"
	default:
		return fmt.Sprintf("EndOfLine(%d)", int(e))
	}
}

// Sequence returns the terminator characters.
func (e EndOfLine) Sequence() string {
	if e == CRLF {
		return "\r\n"
	}
	return "\n"
}

// IsValid reports whether e is LF or CRLF.
func (e EndOfLine) IsValid() bool {
	return e == LF || e == CRLF
}

// ParseEndOfLine parses "lf" or "crlf".
func ParseEndOfLine(s string) (EndOfLine, error) {
	switch s {
	case "lf", "LF":
		return LF, nil
	case "crlf", "CRLF":
		return CRLF, nil
	default:
		return 0, fmt.Errorf("invalid end of line %q: must be lf or crlf", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e EndOfLine) MarshalText() ([]byte, error) {
	if !e.IsValid() {
		return nil, fmt.Errorf("invalid end of line %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EndOfLine) UnmarshalText(text []byte) error {
	v, err := ParseEndOfLine(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}
