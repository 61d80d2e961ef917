package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/mirror"
	"github.com/roach88/codetape/internal/workspace"
)

// SeekOptions holds flags for the seek command.
type SeekOptions struct {
	*RootOptions
	Clock    float64
	Out      string // mirror directory; empty means headless
	Stepwise bool
}

// SeekOutput describes the workspace after a seek.
type SeekOutput struct {
	Session   string   `json:"session"`
	Requested float64  `json:"requested"`
	Clock     float64  `json:"clock"`
	Direction string   `json:"direction"`
	Strategy  string   `json:"strategy"`
	Steps     int      `json:"steps"`
	Applied   int      `json:"applied"`
	Active    string   `json:"active,omitempty"`
	State     []string `json:"state"`
	Out       string   `json:"out,omitempty"`
	Writes    int64    `json:"writes,omitempty"`
	Removes   int64    `json:"removes,omitempty"`
}

// NewSeekCommand creates the seek command.
func NewSeekCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeekOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seek <session>",
		Short: "Show or materialize the workspace at a point in time",
		Long: `Seek a session to a clock and report the workspace state there.

With --out, the workspace is written into a directory: every file and
open document is written, and every other file under the directory is
removed (ignored paths such as .git are kept).

Clocks outside the session are clamped to [0, duration].

Exit codes:
  0 - Seek succeeded
  1 - Seek failed (desync or mirror error)
  2 - Command error (session not found, etc.)

Examples:
  codetape seek ./talk.session --clock 42.5
  codetape seek ./talk.session --clock 42.5 --out ./checkout
  codetape seek ./talk.session --clock 0 --stepwise --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeek(opts, args[0], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Clock, "clock", 0, "target clock in seconds (required)")
	_ = cmd.MarkFlagRequired("clock")
	cmd.Flags().StringVar(&opts.Out, "out", "", "directory to materialize the workspace into")
	cmd.Flags().BoolVar(&opts.Stepwise, "stepwise", false, "apply events one at a time")

	return cmd
}

func runSeek(opts *SeekOptions, dir string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	ls, err := loadSession(dir)
	if err != nil {
		return reportLoadError(f, err)
	}

	var mirrorAdapter *mirror.Adapter
	var newAdapter func(*workspace.Workspace) engine.Adapter
	if opts.Out != "" {
		newAdapter = func(ws *workspace.Workspace) engine.Adapter {
			mirrorAdapter = mirror.New(opts.Out, ws, mirror.WithIgnore(cfg.Recorder.Ignore...))
			return mirrorAdapter
		}
	}
	player := ls.newPlayer(cfg, newAdapter)

	f.VerboseLog("Seeking %s to %g", dir, opts.Clock)
	res, err := player.SeekNow(ctx, opts.Clock, opts.Stepwise)
	if err != nil {
		return f.fail(ExitFailure, ErrCodeSeekFailed, fmt.Sprintf("seek to %g failed", opts.Clock), err)
	}
	if mirrorAdapter != nil {
		if err := mirrorAdapter.Materialize(ctx); err != nil {
			return f.fail(ExitFailure, ErrCodeSeekFailed, "failed to materialize workspace", err)
		}
	}

	ws := player.Workspace()
	out := SeekOutput{
		Session:   dir,
		Requested: opts.Clock,
		Clock:     ws.Clock(),
		Direction: res.Data.Direction.String(),
		Strategy:  string(res.Strategy),
		Steps:     len(res.Data.Steps),
		Applied:   ws.Applied(),
		Active:    ws.ActiveURI(),
		State:     stateLines(ws.Snapshot()),
	}
	if mirrorAdapter != nil {
		out.Out = mirrorAdapter.Root()
		out.Writes, out.Removes = mirrorAdapter.Stats()
	}

	if f.IsJSON() {
		return f.Success(out)
	}
	outputSeekText(cmd, out)
	return nil
}

func outputSeekText(cmd *cobra.Command, out SeekOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "✓ Seek %g -> %g (%s %s, %d steps)\n", out.Requested, out.Clock, out.Direction, out.Strategy, out.Steps)
	fmt.Fprintf(w, "  Applied: %d events\n", out.Applied)
	if out.Active != "" {
		fmt.Fprintf(w, "  Active: %s\n", out.Active)
	}
	if out.Out != "" {
		fmt.Fprintf(w, "  Materialized: %s (%d written, %d removed)\n", out.Out, out.Writes, out.Removes)
	}
	fmt.Fprintln(w)
	for _, line := range out.State {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// stateLines splits a snapshot summary into lines.
func stateLines(snap workspace.Snapshot) []string {
	summary := strings.TrimRight(snap.Summary(), "\n")
	if summary == "" {
		return []string{}
	}
	return strings.Split(summary, "\n")
}

// commandContext returns the command's context, or Background when it has
// none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
