package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/codetape/internal/workspace"
)

// ErrPlayerStopped is returned by Seek after the player's Run loop exits.
var ErrPlayerStopped = errors.New("player stopped")

// RuntimeError represents an error detected while replaying or recording.
//
// Runtime errors include:
//   - Desync: an event cannot be applied to the simulated state
//   - Adapter sync: the host adapter failed to mirror the simulated state
//   - Malformed: persisted session data does not have the expected shape
//   - Not at end: recording was attempted away from the end of the log
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// URIs lists the documents affected, if known.
	URIs []string

	// Clock is the seek target or recording clock.
	Clock float64

	// Err is the underlying error.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDesync indicates the simulation and the event log disagree.
	ErrCodeDesync RuntimeErrorCode = "DESYNC"

	// ErrCodeAdapterSync indicates the adapter failed to apply a step or sync.
	ErrCodeAdapterSync RuntimeErrorCode = "ADAPTER_SYNC"

	// ErrCodeMalformed indicates persisted session data is malformed.
	ErrCodeMalformed RuntimeErrorCode = "MALFORMED"

	// ErrCodeNotAtEnd indicates recording away from the end of the log.
	ErrCodeNotAtEnd RuntimeErrorCode = "NOT_AT_END"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.URIs) > 0 {
		msg += fmt.Sprintf(" (uris=%s)", strings.Join(e.URIs, ","))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsDesyncError returns true if the error is a desync error.
// Matches both RuntimeError with ErrCodeDesync and bare workspace errors.
// Uses errors.As to handle wrapped errors.
func IsDesyncError(err error) bool {
	return hasCode(err, ErrCodeDesync) || errors.Is(err, workspace.ErrDesync)
}

// IsAdapterError returns true if the error is an adapter sync error.
func IsAdapterError(err error) bool {
	return hasCode(err, ErrCodeAdapterSync)
}

// IsMalformedError returns true if the error reports malformed session data.
func IsMalformedError(err error) bool {
	return hasCode(err, ErrCodeMalformed)
}

// IsNotAtEndError returns true if recording failed away from the log end.
func IsNotAtEndError(err error) bool {
	return hasCode(err, ErrCodeNotAtEnd) || errors.Is(err, workspace.ErrNotAtEnd)
}

// NewDesyncError creates a RuntimeError for a failed seek.
func NewDesyncError(clock float64, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDesync,
		Message: fmt.Sprintf("seek to %g failed", clock),
		Clock:   clock,
		Err:     err,
	}
}

// NewAdapterSyncError creates a RuntimeError for an adapter failure.
func NewAdapterSyncError(clock float64, uris []string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAdapterSync,
		Message: "adapter failed to sync workspace",
		URIs:    uris,
		Clock:   clock,
		Err:     err,
	}
}

// NewMalformedError creates a RuntimeError for malformed session data.
func NewMalformedError(message string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMalformed,
		Message: message,
		Err:     err,
	}
}

// NewNotAtEndError creates a RuntimeError for recording away from the end.
func NewNotAtEndError(clock float64, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotAtEnd,
		Message: "cannot record before the end of the session; seek to the end first",
		Clock:   clock,
		Err:     err,
	}
}
