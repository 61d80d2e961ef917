package sessionio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/testutil"
)

var (
	uriA = ir.WorkspaceURI("a.txt")
	now  = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

// sampleSession records a session that touches most event types.
func sampleSession(t *testing.T) *Session {
	t.Helper()
	blobText := "package main\n"
	scratch := ir.UntitledURI("Untitled-1")
	log := testutil.RecordLogWith(t, testutil.NewMapBlobs(blobText),
		ir.NewFsCreate(0, uriA, testutil.Blob(blobText)),
		ir.NewOpenTextDocument(0, scratch, ir.StringPtr(""), ir.LF),
		ir.NewShowTextEditor(0.5, scratch, nil, ir.R(0, 0, 10, 0)),
		testutil.Insert(1, scratch, 0, 0, "héllo 👋"),
		ir.NewSelect(1.25, scratch, []ir.Selection{ir.Caret(ir.NewPosition(0, 2))}, ir.R(0, 0, 10, 0)),
		ir.NewScroll(1.5, scratch, ir.R(1, 0, 11, 0)),
		ir.NewSave(2, scratch),
		ir.NewCloseTextEditor(2.5, scratch),
		ir.NewCloseTextDocument(3, scratch),
	)
	s := New("session-1", "demo", ir.LF, now)
	s.SetLog(log)
	s.Body.Focus.Documents = []ir.DocumentFocus{{Clock: 0.5, URI: scratch}}
	s.Head.AudioTracks = []ir.MediaTrack{{
		ID:         "voice",
		Type:       ir.TrackAudio,
		ClockRange: ir.ClockRange{Start: 0, End: 3},
		File:       ir.FileRef{Type: ir.FileBlob, Hash: ir.BlobHash([]byte("RIFF"))},
	}}
	return s
}

func TestBody_RoundTripIsByteIdentical(t *testing.T) {
	s := sampleSession(t)

	first, err := EncodeBody(&s.Body)
	require.NoError(t, err)

	body, err := DecodeBody(first)
	require.NoError(t, err)

	// JSON -> container -> JSON
	log, err := eventlog.FromEvents(body.Events)
	require.NoError(t, err)
	body.Events = log.Events()

	second, err := EncodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession(t)

	require.NoError(t, Save(dir, s, now))
	assert.True(t, Exists(dir))
	assert.DirExists(t, filepath.Join(dir, BlobsDir))
	assert.Equal(t, 3.0, s.Head.Duration)
	assert.NotEmpty(t, s.Head.BodyDigest)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s.Head.ID, loaded.Head.ID)
	assert.Equal(t, s.Head.BodyDigest, loaded.Head.BodyDigest)
	assert.Equal(t, s.Head.AudioTracks, loaded.Head.AudioTracks)
	assert.True(t, now.Equal(loaded.Head.CreatedAt))
	assert.Equal(t, s.Body.Events, loaded.Body.Events)
	assert.Equal(t, s.Body.Focus, loaded.Body.Focus)

	log, err := loaded.Log()
	require.NoError(t, err)
	assert.Equal(t, len(s.Body.Events), log.Len())

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{
			name: "body is not json",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version": 1, "events": [`)
			},
		},
		{
			name: "unknown event type",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version":1,"default_eol":"lf","events":[`+
					`{"id":1,"clock":0,"uri":"workspace:a.txt","type":"explode"}],"focus":{"documents":null,"lines":null}}`)
			},
		},
		{
			name: "negative clock",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version":1,"default_eol":"lf","events":[`+
					`{"id":1,"clock":-1,"uri":"workspace:a.txt","type":"save","save":{}}],"focus":{"documents":null,"lines":null}}`)
			},
		},
		{
			name: "bad uri scheme",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version":1,"default_eol":"lf","events":[`+
					`{"id":1,"clock":0,"uri":"file:a.txt","type":"save","save":{}}],"focus":{"documents":null,"lines":null}}`)
			},
		},
		{
			name: "missing payload",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version":1,"default_eol":"lf","events":[`+
					`{"id":1,"clock":0,"uri":"workspace:a.txt","type":"save"}],"focus":{"documents":null,"lines":null}}`)
			},
		},
		{
			name: "duplicate ids",
			mutate: func(t *testing.T, dir string) {
				writeUnchecked(t, dir, `{"format_version":1,"default_eol":"lf","events":[`+
					`{"id":1,"clock":0,"uri":"workspace:a.txt","type":"save","save":{}},`+
					`{"id":1,"clock":1,"uri":"workspace:a.txt","type":"save","save":{}}],"focus":{"documents":null,"lines":null}}`)
			},
		},
		{
			name: "digest mismatch",
			mutate: func(t *testing.T, dir string) {
				body, err := os.ReadFile(filepath.Join(dir, BodyFile))
				require.NoError(t, err)
				tampered := strings.Replace(string(body), `"lf"`, `"crlf"`, 1)
				require.NoError(t, os.WriteFile(filepath.Join(dir, BodyFile), []byte(tampered), 0o644))
			},
		},
		{
			name: "bad head",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, HeadFile), []byte(`{"id":""}`), 0o644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, Save(dir, sampleSession(t), now))
			tt.mutate(t, dir)

			s, err := Load(dir)
			if err == nil {
				// Duplicate ids pass the shape check and fail building the log.
				_, err = s.Log()
			}
			require.Error(t, err)
			assert.True(t, engine.IsMalformedError(err), "got %v", err)
		})
	}
}

// writeUnchecked replaces the body and drops the head digest so only the
// body content is checked.
func writeUnchecked(t *testing.T, dir, body string) {
	t.Helper()
	head, err := LoadHead(dir)
	require.NoError(t, err)
	head.BodyDigest = ""
	data, err := EncodeHead(head)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, HeadFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, BodyFile), []byte(body), 0o644))
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.False(t, engine.IsMalformedError(err))
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope")))
}

func TestDirBlobStore(t *testing.T) {
	store := NewDirBlobStore(filepath.Join(t.TempDir(), "blobs"))

	hash, err := store.WriteBlob([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	assert.True(t, store.Has(hash))

	again, err := store.WriteBlob([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	data, err := store.ReadBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	hashes, err := store.Hashes()
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, hashes)

	// Corrupt the blob on disk.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), hash), []byte("jello"), 0o644))
	_, err = store.ReadBlob(hash)
	assert.ErrorContains(t, err, "corrupt")

	_, err = store.ReadBlob("not-a-hash")
	assert.Error(t, err)
}

func TestDirBlobStore_EmptyDir(t *testing.T) {
	store := NewDirBlobStore(filepath.Join(t.TempDir(), "missing"))
	hashes, err := store.Hashes()
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestReferencedBlobsAndCopy(t *testing.T) {
	s := sampleSession(t)
	refs := ReferencedBlobs(s)
	assert.Equal(t, []string{
		ir.BlobHash([]byte("package main\n")),
		ir.BlobHash([]byte("RIFF")),
	}, refs)

	src := NewDirBlobStore(filepath.Join(t.TempDir(), "src"))
	for _, content := range []string{"package main\n", "RIFF", "unreferenced"} {
		_, err := src.WriteBlob([]byte(content))
		require.NoError(t, err)
	}
	dst := Blobs(t.TempDir())

	n, err := CopyBlobs(context.Background(), s, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	hashes, err := dst.Hashes()
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
}

func TestWriteFileAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, WriteFileAtomic(path, []byte("one")))
	require.NoError(t, WriteFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
