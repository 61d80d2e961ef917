package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/testutil"
)

var (
	uriA = ir.WorkspaceURI("a.txt")
	uriB = ir.WorkspaceURI("b.txt")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testSession types into a.txt and b.txt, interleaved.
func testSession(t *testing.T, id string, modified time.Time) *sessionio.Session {
	t.Helper()
	blobs := testutil.NewMapBlobs("seed\n")
	log := testutil.RecordLogWith(t, blobs,
		ir.NewFsCreate(0, uriA, testutil.Blob("seed\n")),
		testutil.CreateEmpty(0, uriB),
		testutil.Insert(1, uriA, 0, 0, "a"),
		testutil.Insert(1.5, uriB, 0, 0, "b"),
		testutil.Insert(2, uriA, 0, 1, "a"),
		ir.NewSave(3, uriA),
	)
	sess := sessionio.New(id, "session "+id, ir.LF, modified)
	sess.SetLog(log)
	sess.Body.Focus.Documents = []ir.DocumentFocus{{Clock: 1, URI: uriA}}
	return sess
}

func TestSaveLoadSession(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sess := testSession(t, "s1", testutil.Epoch)

	require.NoError(t, s.SaveSession(ctx, sess))

	loaded, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.Head.ID, loaded.Head.ID)
	assert.Equal(t, sess.Head.Title, loaded.Head.Title)
	assert.Equal(t, 3.0, loaded.Head.Duration)
	assert.Equal(t, sess.Body.DefaultEOL, loaded.Body.DefaultEOL)
	assert.Equal(t, sess.Body.Focus, loaded.Body.Focus)
	assert.Equal(t, sess.Body.Events, loaded.Body.Events)

	log, err := loaded.Log()
	require.NoError(t, err)
	assert.Equal(t, 6, log.Len())
}

func TestSaveSession_ReplacesEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sess := testSession(t, "s1", testutil.Epoch)
	require.NoError(t, s.SaveSession(ctx, sess))

	sess.Head.Title = "renamed"
	sess.Body.Events = sess.Body.Events[:2]
	require.NoError(t, s.SaveSession(ctx, sess))

	loaded, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Head.Title)
	assert.Len(t, loaded.Body.Events, 2)

	infos, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].Events)
}

func TestSaveSession_InvalidHead(t *testing.T) {
	s := openTestStore(t)
	sess := testSession(t, "", testutil.Epoch)
	assert.Error(t, s.SaveSession(context.Background(), sess))
}

func TestLoadSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	infos, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, infos)
	assert.Empty(t, infos)

	require.NoError(t, s.SaveSession(ctx, testSession(t, "old", testutil.Epoch)))
	require.NoError(t, s.SaveSession(ctx, testSession(t, "new", testutil.Epoch.Add(time.Hour))))
	require.NoError(t, s.SaveSession(ctx, testSession(t, "also-old", testutil.Epoch)))

	infos, err = s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "new", infos[0].ID)
	assert.Equal(t, "also-old", infos[1].ID, "ties break by id")
	assert.Equal(t, "old", infos[2].ID)
	assert.Equal(t, 6, infos[0].Events)
	assert.Equal(t, 3.0, infos[0].Duration)
	assert.True(t, testutil.Epoch.Add(time.Hour).Equal(infos[0].ModifiedAt))
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveSession(ctx, testSession(t, "s1", testutil.Epoch)))

	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err := s.LoadSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), ErrSessionNotFound)

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Zero(t, count)
}

func TestReadEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveSession(ctx, testSession(t, "s1", testutil.Epoch)))

	clocks := func(events []ir.Event) []float64 {
		out := make([]float64, len(events))
		for i, ev := range events {
			out[i] = ev.Clock
		}
		return out
	}

	tests := []struct {
		name       string
		uri        string
		start, end float64
		want       []float64
	}{
		{"all", "", 0, 10, []float64{0, 0, 1, 1.5, 2, 3}},
		{"inclusive bounds", "", 1, 2, []float64{1, 1.5, 2}},
		{"one uri", uriA, 0, 10, []float64{0, 1, 2, 3}},
		{"uri and range", uriB, 1, 3, []float64{1.5}},
		{"empty range", "", 4, 5, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.ReadEvents(ctx, "s1", tt.uri, tt.start, tt.end)
			require.NoError(t, err)
			assert.NotNil(t, events)
			assert.Equal(t, tt.want, clocks(events))
		})
	}

	events, err := s.ReadEvents(ctx, "s1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID, "same clock orders by id")
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	hash, err := s.WriteBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, ir.BlobHash([]byte("hello")), hash)

	again, err := s.WriteBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	data, err := s.ReadBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.ReadBlob(ctx, ir.BlobHash([]byte("missing")))
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = s.DB().Exec(`UPDATE blobs SET data = ? WHERE hash = ?`, []byte("jello"), hash)
	require.NoError(t, err)
	_, err = s.ReadBlob(ctx, hash)
	assert.ErrorContains(t, err, "corrupt")
}

func TestBlobStoreAdapter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	blobs := s.Blobs(ctx)

	hash, err := blobs.WriteBlob([]byte("seed\n"))
	require.NoError(t, err)
	data, err := blobs.ReadBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, "seed\n", string(data))

	// Round trip a session directory's blobs through the library.
	sess := testSession(t, "s1", testutil.Epoch)
	dst := sessionio.NewDirBlobStore(t.TempDir())
	n, err := sessionio.CopyBlobs(ctx, sess, blobs, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, dst.Has(hash))
}

func TestPruneBlobs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	kept, err := s.WriteBlob(ctx, []byte("seed\n"))
	require.NoError(t, err)
	_, err = s.WriteBlob(ctx, []byte("orphan"))
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, testSession(t, "s1", testutil.Epoch)))

	n, err := s.PruneBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.ReadBlob(ctx, kept)
	assert.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	n, err = s.PruneBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.ReadBlob(ctx, kept)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
