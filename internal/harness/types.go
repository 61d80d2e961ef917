package harness

import "github.com/roach88/codetape/internal/workspace"

// TraceEvent records one seek of a scenario run.
type TraceEvent struct {
	// Seek is the requested clock.
	Seek float64 `json:"seek"`
	// Clock is the workspace clock after the seek.
	Clock     float64 `json:"clock"`
	Direction string  `json:"direction"`
	Strategy  string  `json:"strategy"`
	// Steps are the ids of the events the seek applied or reverted.
	Steps []int64 `json:"steps"`
	// Adapter lists the adapter calls in order.
	Adapter []string `json:"adapter"`
	// State is the workspace snapshot summary, one line per entry.
	State []string `json:"state"`
	// Error is the runtime error code, if the seek failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one entry per seek, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// snapshots holds the state after each seek for equivalence checks.
	snapshots []workspace.Snapshot
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddSeekTrace adds a seek to the trace.
func (r *Result) AddSeekTrace(ev TraceEvent, snap workspace.Snapshot) {
	r.Trace = append(r.Trace, ev)
	r.snapshots = append(r.snapshots, snap)
}
