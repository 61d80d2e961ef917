// Package mirror implements a player adapter that mirrors the simulated
// workspace into a directory on disk.
//
// Every workspace URI maps to root/<path>. Open documents are written with
// their current buffer text, other worktree entries with their file content,
// and paths the workspace no longer knows are removed. Untitled buffers have
// no file and are skipped.
//
// Thread-safety model:
//   - The player calls ApplySeekStep and Sync from its worker goroutine
//   - SuppressInput and Suppressed are safe from any goroutine
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/workspace"
)

// Adapter mirrors a workspace into a directory.
type Adapter struct {
	root   string
	ws     *workspace.Workspace
	ignore *IgnoreList

	suppressed atomic.Int32
	writes     atomic.Int64
	removes    atomic.Int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIgnore replaces the default ignore patterns.
func WithIgnore(patterns ...string) Option {
	return func(a *Adapter) {
		a.ignore = NewIgnoreList(patterns...)
	}
}

// New creates an adapter mirroring ws into root.
func New(root string, ws *workspace.Workspace, opts ...Option) *Adapter {
	a := &Adapter{
		root:   filepath.Clean(root),
		ws:     ws,
		ignore: NewIgnoreList(DefaultIgnore...),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var (
	_ engine.Adapter         = (*Adapter)(nil)
	_ engine.InputSuppressor = (*Adapter)(nil)
)

// Root returns the mirror directory.
func (a *Adapter) Root() string {
	return a.root
}

// Ignore returns the adapter's ignore list.
func (a *Adapter) Ignore() *IgnoreList {
	return a.ignore
}

// Stats returns how many files were written and removed.
func (a *Adapter) Stats() (writes, removes int64) {
	return a.writes.Load(), a.removes.Load()
}

// ApplySeekStep mirrors the URIs the step touched. Editor-only events
// (selections, scrolling, saves) do not change files.
func (a *Adapter) ApplySeekStep(ctx context.Context, step ir.Event, dir workspace.Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch step.Type {
	case ir.EventFsCreate, ir.EventFsDelete, ir.EventTextChange,
		ir.EventOpenTextDocument, ir.EventCloseTextDocument:
	default:
		return nil
	}
	for _, uri := range workspace.TouchedURIs(step) {
		if err := a.syncURI(uri); err != nil {
			return fmt.Errorf("mirror %s step %d: %w", dir, step.ID, err)
		}
	}
	return nil
}

// Sync mirrors uris in two passes. Paths the workspace no longer has, or
// has with another kind (file vs directory), are removed deepest first.
// Then the remaining paths are written shallowest first, so a directory
// replacing a file exists before its children are written.
func (a *Adapter) Sync(ctx context.Context, uris []string) error {
	ordered := slices.Clone(uris)
	slices.SortFunc(ordered, func(x, y string) int {
		if d := strings.Count(y, "/") - strings.Count(x, "/"); d != 0 {
			return d
		}
		return strings.Compare(x, y)
	})
	for _, uri := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.removeStale(uri); err != nil {
			return fmt.Errorf("mirror sync: %w", err)
		}
	}
	slices.Reverse(ordered)
	for _, uri := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.want(uri) == wantNone {
			continue
		}
		if err := a.syncURI(uri); err != nil {
			return fmt.Errorf("mirror sync: %w", err)
		}
	}
	slog.Debug("mirror synced", "root", a.root, "uris", len(uris))
	return nil
}

type wanted int

const (
	wantNone wanted = iota
	wantFile
	wantDir
)

// want returns what the workspace has at uri.
func (a *Adapter) want(uri string) wanted {
	if _, ok := a.ws.Text(uri); ok {
		return wantFile
	}
	f, ok := a.ws.File(uri)
	switch {
	case !ok:
		return wantNone
	case f.Type == ir.FileDir:
		return wantDir
	default:
		return wantFile
	}
}

// removeStale removes the path of uri when the workspace lacks it or has a
// different kind of entry there.
func (a *Adapter) removeStale(uri string) error {
	if !ir.IsWorkspaceURI(uri) {
		return nil
	}
	p, err := a.Path(uri)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return nil
	}
	switch a.want(uri) {
	case wantNone:
	case wantDir:
		if info.IsDir() {
			return nil
		}
	default:
		if !info.IsDir() {
			return nil
		}
	}
	return a.remove(p)
}

// Materialize makes root match the workspace exactly: every workspace path
// is written and every other file under root is removed, except ignored
// paths.
func (a *Adapter) Materialize(ctx context.Context) error {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return fmt.Errorf("materialize: %w", err)
	}
	uris := make(map[string]struct{})
	for _, uri := range a.ws.URIs() {
		if ir.IsWorkspaceURI(uri) {
			uris[uri] = struct{}{}
		}
	}
	onDisk, err := a.scan()
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}
	for _, uri := range onDisk {
		uris[uri] = struct{}{}
	}
	all := make([]string, 0, len(uris))
	for uri := range uris {
		all = append(all, uri)
	}
	return a.Sync(ctx, all)
}

// scan returns the URI of every path under root.
func (a *Adapter) scan() ([]string, error) {
	var uris []string
	err := filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == a.root {
			return nil
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if a.ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		uris = append(uris, ir.WorkspaceURI(rel))
		return nil
	})
	return uris, err
}

// ShouldRecordURI accepts workspace paths that are not ignored.
func (a *Adapter) ShouldRecordURI(uri string) bool {
	rel, err := ir.URIPath(uri)
	if err != nil {
		return false
	}
	return !a.ignore.Match(rel)
}

// SuppressInput marks host input as driven by the player until the
// returned function is called. Calls nest.
func (a *Adapter) SuppressInput() func() {
	a.suppressed.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { a.suppressed.Add(-1) })
	}
}

// Suppressed reports whether the player is currently driving the directory.
func (a *Adapter) Suppressed() bool {
	return a.suppressed.Load() > 0
}

// Path returns the file path for a workspace URI.
func (a *Adapter) Path(uri string) (string, error) {
	rel, err := ir.URIPath(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.root, filepath.FromSlash(rel)), nil
}

// syncURI brings one path in line with the workspace.
func (a *Adapter) syncURI(uri string) error {
	if !ir.IsWorkspaceURI(uri) {
		return nil
	}
	p, err := a.Path(uri)
	if err != nil {
		return err
	}

	if text, ok := a.ws.Text(uri); ok {
		return a.writeFile(p, []byte(text))
	}
	f, ok := a.ws.File(uri)
	if !ok {
		return a.remove(p)
	}
	switch f.Type {
	case ir.FileDir:
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", uri, err)
		}
		return nil
	case ir.FileEmpty:
		return a.writeFile(p, nil)
	default:
		data, err := a.ws.BlobContent(f.Hash)
		if err != nil {
			return err
		}
		return a.writeFile(p, data)
	}
}

// writeFile replaces p with data unless it already holds exactly data.
func (a *Adapter) writeFile(p string, data []byte) error {
	if cur, err := os.ReadFile(p); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", p, err)
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("replace dir %s: %w", p, err)
		}
	}
	if err := sessionio.WriteFileAtomic(p, data); err != nil {
		return err
	}
	a.writes.Add(1)
	slog.Debug("mirror write", "path", p, "bytes", len(data))
	return nil
}

func (a *Adapter) remove(p string) error {
	if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	a.removes.Add(1)
	slog.Debug("mirror remove", "path", p)
	return nil
}
