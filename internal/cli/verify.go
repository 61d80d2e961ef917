package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/workspace"
)

// DefaultCheckpoints is the number of intervals verify splits a session into.
const DefaultCheckpoints = 10

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Checkpoints int
}

// VerifyCheck is the outcome of one checkpoint comparison.
type VerifyCheck struct {
	Phase    string   `json:"phase"` // "forward", "backward" or "empty"
	Clock    float64  `json:"clock"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Expected []string `json:"expected,omitempty"`
	Actual   []string `json:"actual,omitempty"`
}

// VerifyResult holds the overall replay check.
type VerifyResult struct {
	Session  string        `json:"session"`
	Events   int           `json:"events"`
	Duration float64       `json:"duration"`
	Checks   []VerifyCheck `json:"checks"`
	Failed   int           `json:"failed"`
	Valid    bool          `json:"valid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <session>",
		Short: "Replay a session and check it is consistent",
		Long: `Replay a session forwards to the end and backwards to zero, one event at
a time, and compare the workspace at evenly spaced checkpoints with a
wholesale seek straight to that checkpoint.

A session passes when every event applies and reverts cleanly and both
strategies agree everywhere. Going back to zero must restore the empty
workspace.

Exit codes:
  0 - Session is consistent
  1 - Replay failed or strategies disagree
  2 - Command error (session not found, etc.)

Examples:
  codetape verify ./talk.session
  codetape verify ./talk.session --checkpoints 100
  codetape verify ./talk.session --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Checkpoints, "checkpoints", DefaultCheckpoints, "number of intervals to check")

	return cmd
}

func runVerify(opts *VerifyOptions, dir string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Checkpoints < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--checkpoints must be at least 1, got %d", opts.Checkpoints))
	}
	ls, err := loadSession(dir)
	if err != nil {
		return reportLoadError(f, err)
	}

	result := verifySession(ctx, ls, opts.Checkpoints)
	result.Session = dir

	if f.IsJSON() {
		if !result.Valid {
			if err := f.Failure(ErrCodeVerifyFailed, fmt.Sprintf("%d check(s) failed", result.Failed), result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "replay verification failed")
		}
		return f.Success(result)
	}
	return outputVerifyText(cmd, result, opts.Verbose)
}

// verifySession walks a step-only player through the checkpoints and back,
// comparing each state with a fresh wholesale seek. It stops at the first
// runtime error, since nothing after it is meaningful.
func verifySession(ctx context.Context, ls *loadedSession, n int) VerifyResult {
	result := VerifyResult{
		Events:   ls.Log.Len(),
		Duration: ls.Session.Head.Duration,
		Checks:   []VerifyCheck{},
		Valid:    true,
	}
	add := func(c VerifyCheck) {
		result.Checks = append(result.Checks, c)
		if !c.OK {
			result.Failed++
			result.Valid = false
		}
	}

	clocks := checkpoints(ls.Session.Head.Duration, n)
	stepper := ls.newPlayer(nil, nil, engine.WithStepOnly(true))
	ws := stepper.Workspace()
	empty := ws.Snapshot()

	forward := make([]workspace.Snapshot, len(clocks))
	for i, clock := range clocks {
		if _, err := stepper.SeekNow(ctx, clock, true); err != nil {
			add(VerifyCheck{Phase: "forward", Clock: clock, Error: err.Error()})
			return result
		}
		forward[i] = ws.Snapshot()
		want, err := wholesaleSnapshot(ctx, ls, clock)
		if err != nil {
			add(VerifyCheck{Phase: "forward", Clock: clock, Error: err.Error()})
			return result
		}
		add(compareCheck("forward", clock, want, forward[i]))
	}

	for i := len(clocks) - 2; i >= 0; i-- {
		clock := clocks[i]
		if _, err := stepper.SeekNow(ctx, clock, true); err != nil {
			add(VerifyCheck{Phase: "backward", Clock: clock, Error: err.Error()})
			return result
		}
		add(compareCheck("backward", clock, forward[i], ws.Snapshot()))
	}

	// Events at clock zero stay applied at zero.
	if ls.Log.UpperBound(0) == 0 {
		add(compareCheck("empty", 0, empty, ws.Snapshot()))
	}
	return result
}

// wholesaleSnapshot seeks a fresh player straight to clock, forcing the
// wholesale strategy.
func wholesaleSnapshot(ctx context.Context, ls *loadedSession, clock float64) (workspace.Snapshot, error) {
	player := ls.newPlayer(nil, nil, engine.WithStepThreshold(0), engine.WithStepOnly(false))
	if _, err := player.SeekNow(ctx, clock, false); err != nil {
		return workspace.Snapshot{}, err
	}
	return player.Workspace().Snapshot(), nil
}

func compareCheck(phase string, clock float64, want, got workspace.Snapshot) VerifyCheck {
	if want.Equal(got) {
		return VerifyCheck{Phase: phase, Clock: clock, OK: true}
	}
	return VerifyCheck{
		Phase:    phase,
		Clock:    clock,
		Expected: stateLines(want),
		Actual:   stateLines(got),
	}
}

// checkpoints returns n+1 evenly spaced clocks from 0 to duration.
func checkpoints(duration float64, n int) []float64 {
	if duration <= 0 {
		return []float64{0}
	}
	out := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, duration*float64(i)/float64(n))
	}
	return append(out, duration)
}

// outputVerifyText outputs the verify result as text.
func outputVerifyText(cmd *cobra.Command, result VerifyResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Verify Summary: %d event(s), %.3fs\n", result.Events, result.Duration)
	fmt.Fprintln(w)

	for _, c := range result.Checks {
		if c.OK {
			if verbose {
				fmt.Fprintf(w, "✓ %-8s %9.3f\n", c.Phase, c.Clock)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %-8s %9.3f\n", c.Phase, c.Clock)
		if c.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", c.Error)
			continue
		}
		fmt.Fprintln(w, "  Expected:")
		for _, line := range c.Expected {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w, "  Actual:")
		for _, line := range c.Actual {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}

	fmt.Fprintln(w)
	if !result.Valid {
		fmt.Fprintf(w, "✗ %d of %d check(s) failed\n", result.Failed, len(result.Checks))
		return NewExitError(ExitFailure, "replay verification failed")
	}
	fmt.Fprintf(w, "✓ All %d checks passed\n", len(result.Checks))
	return nil
}
