package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/codetape/internal/config"
	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/workspace"
)

// LoadError represents an error that occurred while opening a session.
type LoadError struct {
	Code    string
	Message string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// loadedSession is a session directory opened for playback.
type loadedSession struct {
	Dir     string
	Session *sessionio.Session
	Log     *eventlog.Container
	Blobs   *sessionio.DirBlobStore
}

// loadSession opens the session in dir. Errors are *LoadError.
func loadSession(dir string) (*loadedSession, error) {
	if !sessionio.Exists(dir) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "no session found", Path: dir}
	}
	sess, err := sessionio.Load(dir)
	if err != nil {
		return nil, classifyLoadError(dir, err)
	}
	log, err := sess.Log()
	if err != nil {
		return nil, classifyLoadError(dir, err)
	}
	return &loadedSession{
		Dir:     dir,
		Session: sess,
		Log:     log,
		Blobs:   sessionio.Blobs(dir),
	}, nil
}

func classifyLoadError(dir string, err error) *LoadError {
	if engine.IsMalformedError(err) {
		return &LoadError{Code: ErrCodeMalformed, Message: "malformed session", Path: dir, Err: err}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: "failed to load session", Path: dir, Err: err}
}

// reportLoadError turns a loadSession error into an ExitError.
func reportLoadError(f *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return f.fail(ExitCommandError, loadErr.Code, loadErr.Message+": "+loadErr.Path, loadErr.Err)
	}
	return f.fail(ExitCommandError, ErrCodeGeneric, "failed to load session", err)
}

// newWorkspace creates a workspace at clock zero over the session's log.
func (ls *loadedSession) newWorkspace() *workspace.Workspace {
	return workspace.New(ls.Log,
		workspace.WithBlobs(ls.Blobs),
		workspace.WithDefaultEOL(ls.Session.Body.DefaultEOL),
		workspace.WithDuration(ls.Session.Head.Duration),
	)
}

// newPlayer creates a player over a fresh workspace. adapter builds the
// adapter for that workspace; nil means headless. A nil cfg uses the
// player defaults.
func (ls *loadedSession) newPlayer(cfg *config.Config, adapter func(*workspace.Workspace) engine.Adapter, opts ...engine.PlayerOption) *engine.Player {
	ws := ls.newWorkspace()
	var a engine.Adapter = headlessAdapter{}
	if adapter != nil {
		a = adapter(ws)
	}
	if cfg != nil {
		opts = append(cfg.PlayerOptions(), opts...)
	}
	return engine.NewPlayer(ws, a, opts...)
}

// headlessAdapter drives no host. Seeks only change the simulated
// workspace.
type headlessAdapter struct{}

func (headlessAdapter) ApplySeekStep(ctx context.Context, step ir.Event, dir workspace.Direction) error {
	return ctx.Err()
}

func (headlessAdapter) Sync(ctx context.Context, uris []string) error {
	return ctx.Err()
}

func (headlessAdapter) ShouldRecordURI(uri string) bool {
	return true
}
