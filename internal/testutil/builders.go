package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/workspace"
)

// Insert builds a textChange inserting text at (line, char).
func Insert(clock float64, uri string, line, char int, text string) ir.Event {
	return ir.NewTextChange(clock, uri, ir.ContentChange{Range: ir.R(line, char, line, char), Text: text})
}

// Replace builds a textChange replacing r with text.
func Replace(clock float64, uri string, r ir.Range, text string) ir.Event {
	return ir.NewTextChange(clock, uri, ir.ContentChange{Range: r, Text: text})
}

// CreateEmpty builds an fsCreate of an empty text file.
func CreateEmpty(clock float64, uri string) ir.Event {
	return ir.NewFsCreate(clock, uri, ir.FileRef{Type: ir.FileEmpty})
}

// MapBlobs is an in-memory blob reader keyed by content hash. It counts
// reads so tests can check caching.
type MapBlobs struct {
	mu    sync.Mutex
	data  map[string][]byte
	reads int
}

// NewMapBlobs stores each content string as a blob.
func NewMapBlobs(contents ...string) *MapBlobs {
	b := &MapBlobs{data: make(map[string][]byte)}
	for _, c := range contents {
		b.Put([]byte(c))
	}
	return b
}

// Put stores data and returns its hash.
func (b *MapBlobs) Put(data []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash := ir.BlobHash(data)
	b.data[hash] = data
	return hash
}

// ReadBlob implements workspace.BlobReader.
func (b *MapBlobs) ReadBlob(hash string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	data, ok := b.data[hash]
	if !ok {
		return nil, fmt.Errorf("no blob %.12s", hash)
	}
	return data, nil
}

// WriteBlob stores data and returns its hash.
func (b *MapBlobs) WriteBlob(data []byte) (string, error) {
	return b.Put(data), nil
}

// Reads returns the number of ReadBlob calls.
func (b *MapBlobs) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Blob builds a blob file reference for content.
func Blob(content string) ir.FileRef {
	return ir.FileRef{Type: ir.FileBlob, Hash: ir.BlobHash([]byte(content))}
}

// RecordLog records events against a fresh workspace and returns the
// finished log. Reverse data and ids are filled in the way a live recording
// fills them.
func RecordLog(t testing.TB, events ...ir.Event) *eventlog.Container {
	t.Helper()
	return RecordLogWith(t, nil, events...)
}

// RecordLogWith is RecordLog with blobs available to the workspace.
func RecordLogWith(t testing.TB, blobs workspace.BlobReader, events ...ir.Event) *eventlog.Container {
	t.Helper()
	log := eventlog.New()
	log.StartRecording()
	var opts []workspace.Option
	if blobs != nil {
		opts = append(opts, workspace.WithBlobs(blobs))
	}
	ws := workspace.New(log, opts...)
	for _, ev := range events {
		_, err := ws.RecordEvent(ev)
		require.NoError(t, err, ev.String())
	}
	log.StopRecording()
	return log
}
