package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/mirror"
	"github.com/roach88/codetape/internal/recorder"
	"github.com/roach88/codetape/internal/session"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/workspace"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Session  string
	Title    string
	Autosave time.Duration

	// IDGenerator allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RecordResult summarizes a recording.
type RecordResult struct {
	Session  string  `json:"session"`
	ID       string  `json:"id"`
	Root     string  `json:"root"`
	Resumed  bool    `json:"resumed"`
	Events   int     `json:"events"`
	Recorded int64   `json:"recorded"`
	Failed   int64   `json:"failed"`
	Duration float64 `json:"duration"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <dir>",
		Short: "Record edits to a directory into a session",
		Long: `Record changes to the files under a directory as editor events until
Ctrl-C, then save them as a session.

The current content of the directory is recorded first. Then every new
file, rewritten file and removed path becomes an event, stamped with the
time since recording started. Ignored paths (see recorder.ignore in the
config) are never recorded.

If the session already exists, recording continues after its last event.

Examples:
  codetape record ./project --session ./talk.session
  codetape record ./project --session ./talk.session --title "Refactoring"
  codetape record ./project --session ./talk.session --autosave 30s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session directory to write (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Title, "title", "", "session title (default: the directory name)")
	cmd.Flags().DurationVar(&opts.Autosave, "autosave", 0, "save the session at this interval while recording")

	return cmd
}

func runRecord(opts *RecordOptions, root string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	sess, resumed, err := openRecordSession(opts, root, cfg.EOL())
	if err != nil {
		return reportLoadError(f, err)
	}
	log, err := sess.Log()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeMalformed, "malformed session", err)
	}

	ctx, stop := withInterrupt(cmd)
	defer stop()

	blobs := sessionio.Blobs(opts.Session)
	ws := workspace.New(log,
		workspace.WithBlobs(blobs),
		workspace.WithDefaultEOL(sess.Body.DefaultEOL),
		workspace.WithDuration(sess.Head.Duration),
	)
	// Recording continues after the last event, so the workspace jumps to
	// the end without touching the directory.
	if err := ws.SeekWithData(ws.GetSeekData(ws.Duration()), nil); err != nil {
		return f.fail(ExitFailure, ErrCodeSeekFailed, "failed to replay existing session", err)
	}

	adapter := mirror.New(root, ws, mirror.WithIgnore(cfg.Recorder.Ignore...))
	player := engine.NewPlayer(ws, adapter, cfg.PlayerOptions()...)
	ctrl := session.New(player, session.WithTickInterval(cfg.Player.TickInterval))
	ctrl.Start(ctx)
	defer ctrl.Stop()

	rec, err := recorder.New(root, ws, ctrl, blobs,
		recorder.WithIgnore(cfg.Recorder.Ignore...),
		recorder.WithDebounce(cfg.Recorder.Debounce),
		recorder.WithGate(adapter),
	)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to create recorder", err)
	}
	if err := ctrl.Record(ctx); err != nil {
		return f.fail(ExitFailure, ErrCodeGeneric, "failed to start recording", err)
	}

	save := func() error {
		sess.SetLog(ws.Log())
		sess.Head.Duration = max(sess.Head.Duration, ctrl.Clock())
		return sessionio.Save(opts.Session, sess, time.Now())
	}

	var wg sync.WaitGroup
	autosaveCtx, stopAutosave := context.WithCancel(ctx)
	if opts.Autosave > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			autosave(autosaveCtx, opts.Autosave, save)
		}()
	}

	if !f.IsJSON() {
		fmt.Fprintf(cmd.OutOrStdout(), "Recording %s into %s. Press Ctrl-C to stop.\n", rec.Root(), opts.Session)
	}
	runErr := rec.Run(ctx)

	stopAutosave()
	wg.Wait()
	if err := ctrl.Pause(); err != nil {
		slog.Warn("failed to stop recording", "error", err)
	}
	if err := save(); err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to save session", err)
	}
	if runErr != nil {
		return f.fail(ExitFailure, ErrCodeGeneric, "recorder stopped", runErr)
	}

	result := RecordResult{
		Session:  opts.Session,
		ID:       sess.Head.ID,
		Root:     rec.Root(),
		Resumed:  resumed,
		Events:   len(sess.Body.Events),
		Duration: sess.Head.Duration,
	}
	result.Recorded, result.Failed = rec.Stats()
	slog.Info("session saved", "dir", opts.Session, "events", result.Events, "duration", result.Duration)

	if f.IsJSON() {
		return f.Success(result)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Saved %s (%d events, %.3fs)\n", result.Session, result.Events, result.Duration)
	fmt.Fprintf(w, "  Recorded: %d, failed: %d\n", result.Recorded, result.Failed)
	return nil
}

// openRecordSession loads the session to record into, or creates it.
func openRecordSession(opts *RecordOptions, root string, eol ir.EndOfLine) (*sessionio.Session, bool, error) {
	if sessionio.Exists(opts.Session) {
		ls, err := loadSession(opts.Session)
		if err != nil {
			return nil, false, err
		}
		if opts.Title != "" {
			ls.Session.Head.Title = opts.Title
		}
		return ls.Session, true, nil
	}

	gen := opts.IDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	title := opts.Title
	if title == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, false, err
		}
		title = filepath.Base(abs)
	}
	sess := sessionio.New(gen.Generate(), title, eol, time.Now())
	sess.SetLog(eventlog.New())
	return sess, false, nil
}

func autosave(ctx context.Context, every time.Duration, save func() error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := save(); err != nil {
				slog.Error("autosave failed", "error", err)
				continue
			}
			slog.Debug("session autosaved")
		}
	}
}
