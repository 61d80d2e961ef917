// Package workspace simulates the editor state of a session at a point on
// its timeline.
//
// The workspace replays events from an eventlog.Container against in-memory
// documents, editors and a worktree map. It tracks how many events of the
// global (clock, id) order are applied; seeking moves that prefix forwards or
// backwards one event at a time, using the reverse data each event carries.
//
// Thread-safety model:
//   - All exported methods lock the workspace and are safe from any goroutine
//   - Seeks are expected from a single worker (the player); accessors may be
//     called concurrently by adapters and the CLI
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/codetape/internal/document"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
)

var (
	// ErrDesync is returned when an event cannot be applied to the current
	// state, or when seek steps arrive out of order.
	ErrDesync = errors.New("workspace desync")

	// ErrNotAtEnd is returned when recording while not at the end of the log.
	ErrNotAtEnd = errors.New("workspace is not at the end of the log")

	// ErrMissingBlob is returned when blob content is needed but unavailable.
	ErrMissingBlob = errors.New("blob not available")
)

// BlobReader reads content-addressed blobs.
type BlobReader interface {
	ReadBlob(hash string) ([]byte, error)
}

// Workspace is the simulated editor state.
type Workspace struct {
	mu sync.RWMutex

	log        *eventlog.Container
	blobs      BlobReader
	cache      map[string][]byte
	defaultEOL ir.EndOfLine
	duration   float64

	worktree map[string]ir.FileRef
	docs     map[string]*document.Document
	editors  map[string]*document.Editor
	active   string

	applied int
	clock   float64
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithDuration sets the session duration. The duration never drops below
// the clock of the last event.
func WithDuration(d float64) Option {
	return func(w *Workspace) {
		w.duration = d
	}
}

// WithDefaultEOL sets the end of line for documents created without a line
// break. Default: LF.
func WithDefaultEOL(eol ir.EndOfLine) Option {
	return func(w *Workspace) {
		if eol.IsValid() {
			w.defaultEOL = eol
		}
	}
}

// WithBlobs sets the blob source for worktree file content.
func WithBlobs(r BlobReader) Option {
	return func(w *Workspace) {
		w.blobs = r
	}
}

// New creates a workspace over log. A new workspace sits before the first
// event at clock zero.
func New(log *eventlog.Container, opts ...Option) *Workspace {
	w := &Workspace{
		log:        log,
		cache:      make(map[string][]byte),
		defaultEOL: ir.LF,
		worktree:   make(map[string]ir.FileRef),
		docs:       make(map[string]*document.Document),
		editors:    make(map[string]*document.Editor),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Preload reads every blob the log references into memory, so that seeking
// never touches the blob store.
func (w *Workspace) Preload(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hashes := make(map[string]struct{})
	for _, ev := range w.log.Events() {
		switch {
		case ev.FsCreate != nil && ev.FsCreate.File.Type == ir.FileBlob:
			hashes[ev.FsCreate.File.Hash] = struct{}{}
		case ev.FsDelete != nil && ev.FsDelete.RevFile.Type == ir.FileBlob:
			hashes[ev.FsDelete.RevFile.Hash] = struct{}{}
		}
	}

	loaded := 0
	for _, hash := range slices.Sorted(maps.Keys(hashes)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := w.cache[hash]; ok {
			continue
		}
		if w.blobs == nil {
			return fmt.Errorf("preload %s: %w", hash, ErrMissingBlob)
		}
		data, err := w.blobs.ReadBlob(hash)
		if err != nil {
			return fmt.Errorf("preload %s: %w", hash, err)
		}
		w.cache[hash] = data
		loaded++
	}
	slog.Debug("workspace blobs preloaded", "referenced", len(hashes), "loaded", loaded)
	return nil
}

// CacheBlob makes blob content available without the blob store. The
// recorder uses it for content it has just written.
func (w *Workspace) CacheBlob(hash string, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache[hash] = data
}

// blob returns cached content, falling back to the blob reader.
func (w *Workspace) blob(hash string) ([]byte, error) {
	if data, ok := w.cache[hash]; ok {
		return data, nil
	}
	if w.blobs == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingBlob, hash)
	}
	data, err := w.blobs.ReadBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingBlob, hash, err)
	}
	w.cache[hash] = data
	return data, nil
}

// Log returns the underlying event log.
func (w *Workspace) Log() *eventlog.Container {
	return w.log
}

// Clock returns the current clock.
func (w *Workspace) Clock() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clock
}

// Applied returns the number of events applied, a prefix of the global order.
func (w *Workspace) Applied() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.applied
}

// Duration returns the session duration.
func (w *Workspace) Duration() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.durationLocked()
}

func (w *Workspace) durationLocked() float64 {
	return max(w.duration, w.log.Duration())
}

// ExtendDuration raises the session duration to d. A recording uses it to
// keep the quiet time after its last event.
func (w *Workspace) ExtendDuration(d float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duration = max(w.duration, d)
}

// AtEnd reports whether every event of the log is applied.
func (w *Workspace) AtEnd() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.applied == w.log.Len()
}

// Document returns a copy of the document at uri.
func (w *Workspace) Document(uri string) (*document.Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.docs[uri]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Text returns the text of the document at uri.
func (w *Workspace) Text(uri string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.docs[uri]
	if !ok {
		return "", false
	}
	return doc.GetText(), true
}

// Editor returns a copy of the editor for uri.
func (w *Workspace) Editor(uri string) (*document.Editor, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ed, ok := w.editors[uri]
	if !ok {
		return nil, false
	}
	return ed.Clone(), true
}

// ActiveURI returns the URI of the active editor, or "".
func (w *Workspace) ActiveURI() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Worktree returns a copy of the worktree map.
func (w *Workspace) Worktree() map[string]ir.FileRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.worktree)
}

// File returns the worktree entry for uri.
func (w *Workspace) File(uri string) (ir.FileRef, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.worktree[uri]
	return f, ok
}

// URIs returns every URI with a worktree entry, document or editor, sorted.
func (w *Workspace) URIs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	set := make(map[string]struct{})
	for uri := range w.worktree {
		set[uri] = struct{}{}
	}
	for uri := range w.docs {
		set[uri] = struct{}{}
	}
	for uri := range w.editors {
		set[uri] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// BlobContent returns the content of a blob through the workspace cache.
func (w *Workspace) BlobContent(hash string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blob(hash)
}
