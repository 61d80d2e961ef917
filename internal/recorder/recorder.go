// Package recorder turns changes in a directory into editor events.
//
// The recorder treats the directory as the editor: a new file is an
// fsCreate (which also opens its document), a rewritten text file is a
// textChange covering the changed span, and a removed path is an fsDelete.
// Changes are found by comparing the disk with the workspace, so a burst of
// filesystem notifications for one path records a single event.
//
// Thread-safety model:
//   - Run owns the fsnotify watcher and must be called once
//   - Sync and Reconcile must not run concurrently with Run
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/codetape/internal/document"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/mirror"
	"github.com/roach88/codetape/internal/session"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/workspace"
)

// DefaultDebounce is how long a path must stay quiet before it is recorded.
const DefaultDebounce = 100 * time.Millisecond

// Sink records events. session.Controller is the production sink; it
// stamps the clock.
type Sink interface {
	RecordEvent(ctx context.Context, ev ir.Event) (ir.Event, error)
}

// Gate reports whether directory changes come from the player rather than
// the user. mirror.Adapter implements it.
type Gate interface {
	Suppressed() bool
}

// Recorder records a directory into a workspace.
type Recorder struct {
	root     string
	ws       *workspace.Workspace
	sink     Sink
	blobs    sessionio.BlobWriter
	ignore   *mirror.IgnoreList
	debounce time.Duration
	gate     Gate

	watcher  *fsnotify.Watcher
	watched  map[string]bool
	pending  map[string]struct{}
	recorded atomic.Int64
	failed   atomic.Int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIgnore replaces the default ignore patterns.
func WithIgnore(patterns ...string) Option {
	return func(r *Recorder) {
		r.ignore = mirror.NewIgnoreList(patterns...)
	}
}

// WithDebounce sets the quiet period. Zero records on every notification.
func WithDebounce(d time.Duration) Option {
	return func(r *Recorder) {
		r.debounce = max(d, 0)
	}
}

// WithGate drops notifications while gate is suppressed.
func WithGate(g Gate) Option {
	return func(r *Recorder) {
		r.gate = g
	}
}

// New creates a recorder for the directory root. Events go to sink, file
// content to blobs; ws is the workspace sink records into.
func New(root string, ws *workspace.Workspace, sink Sink, blobs sessionio.BlobWriter, opts ...Option) (*Recorder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("recorder root: %w", err)
	}
	r := &Recorder{
		root:     abs,
		ws:       ws,
		sink:     sink,
		blobs:    blobs,
		ignore:   mirror.NewIgnoreList(mirror.DefaultIgnore...),
		debounce: DefaultDebounce,
		watched:  make(map[string]bool),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the absolute recorded directory.
func (r *Recorder) Root() string {
	return r.root
}

// Stats returns how many events were recorded and how many paths failed.
func (r *Recorder) Stats() (recorded, failed int64) {
	return r.recorded.Load(), r.failed.Load()
}

// Run records the current directory content, then watches it until ctx is
// done. Paths still pending when ctx ends are recorded before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = w
	defer func() {
		w.Close()
		r.watcher = nil
	}()

	if err := r.Sync(ctx); err != nil {
		return err
	}
	slog.Info("recorder watching", "root", r.root, "dirs", len(r.watched))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !r.note(ev) {
				continue
			}
			if r.debounce == 0 {
				r.flush(ctx)
				continue
			}
			timer.Reset(r.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "root", r.root, "error", err)

		case <-timer.C:
			r.flush(ctx)
		}
	}
}

// note queues the path of a notification. It reports whether anything was
// queued.
func (r *Recorder) note(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if r.gate != nil && r.gate.Suppressed() {
		return false
	}
	rel, ok := r.rel(ev.Name)
	if !ok || r.ignore.Match(rel) {
		return false
	}
	r.pending[rel] = struct{}{}
	return true
}

// flush reconciles every queued path, parents first.
func (r *Recorder) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}
	rels := make([]string, 0, len(r.pending))
	for rel := range r.pending {
		rels = append(rels, rel)
	}
	clear(r.pending)
	slices.Sort(rels)

	for _, rel := range rels {
		if err := r.Reconcile(ctx, rel); err != nil {
			r.failed.Add(1)
			slog.Warn("record failed", "path", rel, "error", err)
		}
	}
}

// Sync records every difference between the directory and the workspace.
func (r *Recorder) Sync(ctx context.Context) error {
	if err := r.watch(r.root); err != nil {
		return err
	}
	return r.reconcileChildren(ctx, "")
}

// Reconcile records the events that bring the workspace entry for rel, a
// slash path relative to the root, in line with the disk.
func (r *Recorder) Reconcile(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel = strings.Trim(path.Clean(rel), "/")
	if rel == "." || rel == "" {
		return r.reconcileChildren(ctx, "")
	}
	if r.ignore.Match(rel) {
		return nil
	}
	uri := ir.WorkspaceURI(rel)
	p := filepath.Join(r.root, filepath.FromSlash(rel))
	cur, known := r.ws.File(uri)

	info, err := os.Lstat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.forget(p)
		if known {
			return r.deleteTree(ctx, uri)
		}
		return nil
	case err != nil:
		return err

	case info.IsDir():
		if known && cur.Type != ir.FileDir {
			if err := r.deleteTree(ctx, uri); err != nil {
				return err
			}
			known = false
		}
		if !known {
			if err := r.record(ctx, ir.NewFsCreate(0, uri, ir.FileRef{Type: ir.FileDir})); err != nil {
				return err
			}
		}
		if err := r.watch(p); err != nil {
			return err
		}
		return r.reconcileChildren(ctx, rel)

	case !info.Mode().IsRegular():
		return nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	if known && cur.Type == ir.FileDir {
		if err := r.deleteTree(ctx, uri); err != nil {
			return err
		}
		known = false
	}
	if !known {
		return r.create(ctx, uri, data)
	}

	if doc, ok := r.ws.Document(uri); ok && document.IsText(data) {
		change, changed := doc.Diff(string(data))
		if !changed {
			return nil
		}
		return r.record(ctx, ir.NewTextChange(0, uri, change))
	}
	if ref := fileRef(data); ref == cur {
		return nil
	}
	// Binary content changed, or a text file became binary.
	if err := r.record(ctx, ir.NewFsDelete(0, uri)); err != nil {
		return err
	}
	return r.create(ctx, uri, data)
}

// reconcileChildren reconciles the entries of the directory rel and the
// workspace entries directly below it that are gone from disk.
func (r *Recorder) reconcileChildren(ctx context.Context, rel string) error {
	dir := filepath.Join(r.root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		child := path.Join(rel, e.Name())
		onDisk[child] = true
		if err := r.Reconcile(ctx, child); err != nil {
			return err
		}
	}

	var gone []string
	for uri := range r.ws.Worktree() {
		p, err := ir.URIPath(uri)
		if err != nil {
			continue
		}
		parent := path.Dir(p)
		if parent == "." {
			parent = ""
		}
		if parent == rel && !onDisk[p] {
			gone = append(gone, p)
		}
	}
	slices.Sort(gone)
	for _, p := range gone {
		if err := r.Reconcile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// deleteTree records fsDelete for uri and everything below it, deepest
// first.
func (r *Recorder) deleteTree(ctx context.Context, uri string) error {
	var uris []string
	for u := range r.ws.Worktree() {
		if strings.HasPrefix(u, uri+"/") {
			uris = append(uris, u)
		}
	}
	slices.SortFunc(uris, func(a, b string) int {
		if d := strings.Count(b, "/") - strings.Count(a, "/"); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	uris = append(uris, uri)
	for _, u := range uris {
		if err := r.record(ctx, ir.NewFsDelete(0, u)); err != nil {
			return err
		}
	}
	return nil
}

// create stores data and records an fsCreate for it.
func (r *Recorder) create(ctx context.Context, uri string, data []byte) error {
	ref := fileRef(data)
	if ref.Type == ir.FileBlob {
		hash, err := r.blobs.WriteBlob(data)
		if err != nil {
			return fmt.Errorf("store %s: %w", uri, err)
		}
		r.ws.CacheBlob(hash, data)
	}
	return r.record(ctx, ir.NewFsCreate(0, uri, ref))
}

func (r *Recorder) record(ctx context.Context, ev ir.Event) error {
	stored, err := r.sink.RecordEvent(ctx, ev)
	if errors.Is(err, session.ErrIgnoredURI) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", ev, err)
	}
	r.recorded.Add(1)
	slog.Debug("recorded", "event", stored.String())
	return nil
}

// watch adds dir to the watcher once. Without a watcher it does nothing.
func (r *Recorder) watch(dir string) error {
	if r.watcher == nil || r.watched[dir] {
		return nil
	}
	if err := r.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.watched[dir] = true
	return nil
}

// forget drops watch bookkeeping for a removed directory tree. The kernel
// drops the watches themselves.
func (r *Recorder) forget(dir string) {
	for d := range r.watched {
		if d == dir || strings.HasPrefix(d, dir+string(filepath.Separator)) {
			delete(r.watched, d)
		}
	}
}

// rel converts an absolute notification path to a root-relative slash path.
func (r *Recorder) rel(name string) (string, bool) {
	rel, err := filepath.Rel(r.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func fileRef(data []byte) ir.FileRef {
	if len(data) == 0 {
		return ir.FileRef{Type: ir.FileEmpty}
	}
	return ir.FileRef{Type: ir.FileBlob, Hash: ir.BlobHash(data)}
}
