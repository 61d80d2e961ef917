package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/mirror"
	"github.com/roach88/codetape/internal/session"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Out  string
	From float64
}

// PlayResult reports where playback stopped.
type PlayResult struct {
	Session     string  `json:"session"`
	Out         string  `json:"out"`
	Clock       float64 `json:"clock"`
	Duration    float64 `json:"duration"`
	Finished    bool    `json:"finished"`
	Interrupted bool    `json:"interrupted"`
	Writes      int64   `json:"writes"`
	Removes     int64   `json:"removes"`
	Error       string  `json:"error,omitempty"`
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play <session>",
		Short: "Play a session in real time into a directory",
		Long: `Play a session in real time, mirroring the workspace into a directory as
the clock advances. Open the directory in an editor to watch the session.

The directory is first cleared to the state at clock zero: files the
session does not know are removed, except ignored paths such as .git.
Playback runs until the end of the session or Ctrl-C.

Exit codes:
  0 - Playback reached the end or was interrupted
  1 - Playback stopped on a runtime error
  2 - Command error (session not found, etc.)

Examples:
  codetape play ./talk.session --out ./stage
  codetape play ./talk.session --out ./stage --from 120`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "directory to play into (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().Float64Var(&opts.From, "from", 0, "clock to start playback from")

	return cmd
}

func runPlay(opts *PlayOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	ls, err := loadSession(dir)
	if err != nil {
		return reportLoadError(f, err)
	}

	ctx, stop := withInterrupt(cmd)
	defer stop()

	ws := ls.newWorkspace()
	if err := ws.Preload(ctx); err != nil {
		return f.fail(ExitCommandError, ErrCodeMalformed, "failed to read session blobs", err)
	}
	adapter := mirror.New(opts.Out, ws, mirror.WithIgnore(cfg.Recorder.Ignore...))
	if err := adapter.Materialize(ctx); err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to prepare output directory", err)
	}

	var tracks []session.TrackPlayer
	for _, t := range ls.Session.Head.Tracks() {
		tracks = append(tracks, session.NewClockTrack(t, nil))
	}
	player := engine.NewPlayer(ws, adapter, cfg.PlayerOptions()...)
	ctrl := session.New(player,
		session.WithTickInterval(cfg.Player.TickInterval),
		session.WithTracks(tracks...),
	)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	if opts.From > 0 {
		if err := ctrl.Seek(ctx, opts.From); err != nil {
			return f.fail(ExitFailure, ErrCodeSeekFailed, fmt.Sprintf("seek to %g failed", opts.From), err)
		}
	}
	if err := ctrl.Play(ctx); err != nil {
		return f.fail(ExitFailure, ErrCodeSeekFailed, "failed to start playback", err)
	}

	slog.Info("playing", "session", dir, "out", adapter.Root(), "duration", ctrl.Duration())
	if !f.IsJSON() {
		fmt.Fprintf(cmd.OutOrStdout(), "Playing %s into %s (%.1fs). Press Ctrl-C to stop.\n", dir, adapter.Root(), ctrl.Duration())
	}

	finished := pollUntil(ctx, cfg.Player.TickInterval, func() bool {
		return ctrl.State() != session.StatePlaying
	})

	status := ctrl.Status()
	result := PlayResult{
		Session:     dir,
		Out:         adapter.Root(),
		Clock:       status.Clock,
		Duration:    status.Duration,
		Finished:    finished && status.Err == nil,
		Interrupted: !finished,
	}
	result.Writes, result.Removes = adapter.Stats()
	if status.Err != nil {
		result.Error = status.Err.Error()
	}

	if f.IsJSON() {
		if status.Err != nil {
			if err := f.Failure(ErrCodeSeekFailed, "playback stopped on an error", result); err != nil {
				return err
			}
			return WrapExitError(ExitFailure, "playback failed", status.Err)
		}
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	if status.Err != nil {
		fmt.Fprintf(w, "✗ Playback stopped at %.3fs\n", result.Clock)
		return WrapExitError(ExitFailure, "playback failed", status.Err)
	}
	if result.Interrupted {
		fmt.Fprintf(w, "✓ Playback interrupted at %.3fs of %.3fs\n", result.Clock, result.Duration)
	} else {
		fmt.Fprintf(w, "✓ Playback finished at %.3fs\n", result.Clock)
	}
	fmt.Fprintf(w, "  Files: %d written, %d removed\n", result.Writes, result.Removes)
	return nil
}
