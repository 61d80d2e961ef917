package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/store"
	"github.com/roach88/codetape/internal/testutil"
	"github.com/roach88/codetape/internal/workspace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] seek %g -> %g %s %s steps=%v", i+1, ev.Seek, ev.Clock, ev.Direction, ev.Strategy, ev.Steps)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter gives access to the recorded session for assertions
// that replay it.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalText:
			err = assertFinalText(result, assertion)
		case AssertAdapterOrder:
			err = assertAdapterOrder(result.Trace, assertion)
		case AssertEventCount, AssertStepwiseEquivalent, AssertRoundTrip, AssertStoreRoundTrip:
			if actx == nil || actx.Harness == nil || actx.Harness.log == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a recorded session", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertEventCount:
				err = assertEventCount(actx.Harness, assertion)
			case AssertStepwiseEquivalent:
				err = assertStepwiseEquivalent(actx.Ctx, actx.Harness, result)
			case AssertRoundTrip:
				err = assertRoundTrip(actx.Ctx, actx.Harness)
			case AssertStoreRoundTrip:
				err = assertStoreRoundTrip(actx.Ctx, actx.Harness)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertFinalText checks the document text after the last seek.
func assertFinalText(result *Result, assertion Assertion) error {
	if len(result.snapshots) == 0 {
		return &AssertionError{
			Type:     AssertFinalText,
			Expected: fmt.Sprintf("%s to have text %q", assertion.URI, assertion.Text),
			Actual:   "no seek ran",
		}
	}
	last := result.snapshots[len(result.snapshots)-1]
	doc, ok := last.Documents[resolveURI(assertion.URI)]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalText,
			Expected: fmt.Sprintf("%s to have text %q", assertion.URI, assertion.Text),
			Actual:   "no document",
			Trace:    result.Trace,
		}
	}
	if doc.Text != assertion.Text {
		return &AssertionError{
			Type:     AssertFinalText,
			Expected: fmt.Sprintf("%s to have text %q", assertion.URI, assertion.Text),
			Actual:   fmt.Sprintf("%q", doc.Text),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAdapterOrder checks that the given adapter calls appear in order
// across the whole trace. Calls don't need to be consecutive.
func assertAdapterOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, ev := range trace {
		for _, call := range ev.Adapter {
			if next < len(assertion.Calls) && call == assertion.Calls[next] {
				next++
			}
		}
	}
	if next < len(assertion.Calls) {
		return &AssertionError{
			Type:     AssertAdapterOrder,
			Expected: fmt.Sprintf("adapter calls in order: %v", assertion.Calls),
			Actual:   fmt.Sprintf("missing or out of order: %q", assertion.Calls[next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventCount checks the number of recorded events, optionally of one
// type.
func assertEventCount(h *Harness, assertion Assertion) error {
	count := h.log.Len()
	what := "events"
	if assertion.Event != "" {
		typ, err := ir.ParseEventType(assertion.Event)
		if err != nil {
			return err
		}
		count = h.log.CountsByType()[typ]
		what = assertion.Event + " events"
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}
	return nil
}

// assertStepwiseEquivalent replays every seek on a step-only player and
// compares its state with the traced state.
func assertStepwiseEquivalent(ctx context.Context, h *Harness, result *Result) error {
	player := h.newPlayer(nopAdapter{}, engine.WithStepOnly(true))
	ws := player.Workspace()
	for i, seek := range h.scenario.Seeks {
		if i >= len(result.snapshots) {
			break
		}
		_, err := player.SeekNow(ctx, seek.Clock, true)
		if got, want := errorCode(err), result.Trace[i].Error; got != want && want != string(engine.ErrCodeAdapterSync) {
			return &AssertionError{
				Type:     AssertStepwiseEquivalent,
				Expected: fmt.Sprintf("seek %d to end with error %q", i, want),
				Actual:   fmt.Sprintf("error %q", got),
				Trace:    result.Trace,
			}
		}
		if snap := ws.Snapshot(); !snap.Equal(result.snapshots[i]) {
			return &AssertionError{
				Type:     AssertStepwiseEquivalent,
				Expected: fmt.Sprintf("seek %d state:\n%s", i, result.snapshots[i].Summary()),
				Actual:   fmt.Sprintf("step-wise state:\n%s", snap.Summary()),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertRoundTrip seeks a fresh player to the end and back to zero, both
// wholesale and step-wise. The end state must match the recording and the
// zero state must match a direct seek to zero.
func assertRoundTrip(ctx context.Context, h *Harness) error {
	end := h.log.Duration()
	for _, stepwise := range []bool{false, true} {
		zero, err := seekFresh(ctx, h, 0, stepwise)
		if err != nil {
			return err
		}

		player := h.newPlayer(nopAdapter{})
		ws := player.Workspace()
		if _, err := player.SeekNow(ctx, end, stepwise); err != nil {
			return roundTripError(stepwise, "seek to end", err.Error())
		}
		if snap := ws.Snapshot(); !snap.Equal(h.recorded) {
			return roundTripError(stepwise, "end state to match the recording:\n"+h.recorded.Summary(), snap.Summary())
		}
		if _, err := player.SeekNow(ctx, 0, stepwise); err != nil {
			return roundTripError(stepwise, "seek back to zero", err.Error())
		}
		if snap := ws.Snapshot(); !snap.Equal(zero) {
			return roundTripError(stepwise, "zero state:\n"+zero.Summary(), snap.Summary())
		}
	}
	return nil
}

func seekFresh(ctx context.Context, h *Harness, clock float64, stepwise bool) (workspace.Snapshot, error) {
	player := h.newPlayer(nopAdapter{})
	if _, err := player.SeekNow(ctx, clock, stepwise); err != nil {
		return workspace.Snapshot{}, roundTripError(stepwise, fmt.Sprintf("seek to %g", clock), err.Error())
	}
	return player.Workspace().Snapshot(), nil
}

func roundTripError(stepwise bool, expected, actual string) error {
	mode := "wholesale"
	if stepwise {
		mode = "stepwise"
	}
	return &AssertionError{
		Type:     AssertRoundTrip + " (" + mode + ")",
		Expected: expected,
		Actual:   actual,
	}
}

// assertStoreRoundTrip saves the session and its blobs into an in-memory
// library, loads it back, and replays it to the end from the library's
// blobs.
func assertStoreRoundTrip(ctx context.Context, h *Harness) error {
	fail := func(expected string, actual any) error {
		return &AssertionError{Type: AssertStoreRoundTrip, Expected: expected, Actual: fmt.Sprint(actual)}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	id := "scenario-" + h.scenario.Name
	sess := sessionio.New(id, h.scenario.Name, h.eol, testutil.Epoch)
	sess.SetLog(h.log)
	if _, err := sessionio.CopyBlobs(ctx, sess, h.blobs, st.Blobs(ctx)); err != nil {
		return fail("blobs copied", err)
	}
	if err := st.SaveSession(ctx, sess); err != nil {
		return fail("session saved", err)
	}

	loaded, err := st.LoadSession(ctx, id)
	if err != nil {
		return fail("session loaded", err)
	}
	want, err := json.Marshal(sess.Body.Events)
	if err != nil {
		return err
	}
	got, err := json.Marshal(loaded.Body.Events)
	if err != nil {
		return err
	}
	if string(got) != string(want) {
		return fail("loaded events equal to saved events", string(got))
	}

	log, err := loaded.Log()
	if err != nil {
		return fail("loaded events form a log", err)
	}
	ws := workspace.New(log, workspace.WithBlobs(st.Blobs(ctx)), workspace.WithDefaultEOL(loaded.Body.DefaultEOL))
	player := engine.NewPlayer(ws, nopAdapter{}, engine.WithStepOnly(true))
	if _, err := player.SeekNow(ctx, log.Duration(), true); err != nil {
		return fail("replay from the library", err)
	}
	if snap := ws.Snapshot(); !snap.Equal(h.recorded) {
		return fail("replayed state to match the recording:\n"+h.recorded.Summary(), snap.Summary())
	}
	return nil
}
