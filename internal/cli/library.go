package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/store"
)

// LibraryOptions holds flags shared by the session library commands.
type LibraryOptions struct {
	*RootOptions
	Database string
}

// openLibrary opens the SQLite library named by --db, or by library.path in
// the config.
func (o *LibraryOptions) openLibrary() (*store.Store, string, error) {
	path := o.Database
	if path == "" {
		cfg, err := o.Config()
		if err != nil {
			return nil, "", err
		}
		path = cfg.Library.Path
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, path, err
	}
	return st, path, nil
}

func addDatabaseFlag(cmd *cobra.Command, opts *LibraryOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite library (default: library.path from config)")
}

// ImportResult reports an imported session.
type ImportResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Events   int    `json:"events"`
	Blobs    int    `json:"blobs"`
	Database string `json:"database"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LibraryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <session>",
		Short: "Copy a session directory into the library",
		Long: `Copy a session directory and its blobs into the SQLite session library.
A session with the same id is replaced.

Examples:
  codetape import ./talk.session
  codetape import ./talk.session --db ./sessions.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

func runImport(opts *LibraryOptions, dir string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	ls, err := loadSession(dir)
	if err != nil {
		return reportLoadError(f, err)
	}
	st, path, err := opts.openLibrary()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to open library", err)
	}
	defer st.Close()

	n, err := sessionio.CopyBlobs(ctx, ls.Session, ls.Blobs, st.Blobs(ctx))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to copy blobs", err)
	}
	if err := st.SaveSession(ctx, ls.Session); err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to save session", err)
	}

	result := ImportResult{
		ID:       ls.Session.Head.ID,
		Title:    ls.Session.Head.Title,
		Events:   len(ls.Session.Body.Events),
		Blobs:    n,
		Database: path,
	}
	if f.IsJSON() {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %s (%d events, %d blobs) into %s\n", result.ID, result.Events, result.Blobs, path)
	return nil
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	LibraryOptions
	Out   string
	Force bool
}

// ExportResult reports an exported session.
type ExportResult struct {
	ID     string `json:"id"`
	Out    string `json:"out"`
	Events int    `json:"events"`
	Blobs  int    `json:"blobs"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{LibraryOptions: LibraryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a library session to a session directory",
		Long: `Write a session from the SQLite library, with its blobs, to a session
directory. An existing session directory is only overwritten with --force.

Examples:
  codetape export 01890a5d-ac96-774b-bcce-b302099a8057 --out ./talk.session
  codetape export 01890a5d-ac96-774b-bcce-b302099a8057 --out ./talk.session --force`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, &opts.LibraryOptions)
	cmd.Flags().StringVar(&opts.Out, "out", "", "session directory to write (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing session directory")

	return cmd
}

func runExport(opts *ExportOptions, id string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	if sessionio.Exists(opts.Out) && !opts.Force {
		return f.fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("session already exists: %s (use --force to overwrite)", opts.Out), nil)
	}
	st, _, err := opts.openLibrary()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to open library", err)
	}
	defer st.Close()

	sess, err := st.LoadSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("session not found: %s", id), nil)
	}
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to load session", err)
	}

	n, err := sessionio.CopyBlobs(ctx, sess, st.Blobs(ctx), sessionio.Blobs(opts.Out))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to copy blobs", err)
	}
	if err := sessionio.Save(opts.Out, sess, time.Now()); err != nil {
		return f.fail(ExitCommandError, ErrCodeGeneric, "failed to write session", err)
	}

	result := ExportResult{ID: id, Out: opts.Out, Events: len(sess.Body.Events), Blobs: n}
	if f.IsJSON() {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %s to %s (%d events, %d blobs)\n", id, opts.Out, result.Events, result.Blobs)
	return nil
}

// ListEntry is one session in the library listing.
type ListEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Duration   float64   `json:"duration"`
	Events     int       `json:"events"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LibraryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions in the library",
		Long: `List the sessions stored in the SQLite session library.

Examples:
  codetape list
  codetape list --db ./sessions.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

func runList(opts *LibraryOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	st, path, err := opts.openLibrary()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to open library", err)
	}
	defer st.Close()

	infos, err := st.ListSessions(ctx)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to list sessions", err)
	}
	entries := make([]ListEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, ListEntry{
			ID:         info.ID,
			Title:      info.Title,
			Duration:   info.Duration,
			Events:     info.Events,
			ModifiedAt: info.ModifiedAt,
		})
	}

	if f.IsJSON() {
		return f.Success(entries)
	}
	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(w, "No sessions in %s.\n", path)
		return nil
	}
	fmt.Fprintf(w, "Sessions in %s: %d\n", path, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %9.1fs  %5d events  %s\n", e.ID, e.Duration, e.Events, e.Title)
	}
	return nil
}

// DeleteResult reports a removed library session.
type DeleteResult struct {
	ID          string `json:"id"`
	PrunedBlobs int64  `json:"pruned_blobs"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LibraryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a session from the library",
		Long: `Remove a session and its events from the SQLite session library, then
drop the blobs no remaining session references.

Examples:
  codetape delete 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

func runDelete(opts *LibraryOptions, id string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	st, _, err := opts.openLibrary()
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to open library", err)
	}
	defer st.Close()

	err = st.DeleteSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("session not found: %s", id), nil)
	}
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to delete session", err)
	}
	pruned, err := st.PruneBlobs(ctx)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeLibrary, "failed to prune blobs", err)
	}

	result := DeleteResult{ID: id, PrunedBlobs: pruned}
	if f.IsJSON() {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s (%d blobs pruned)\n", id, pruned)
	return nil
}
