package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/sessionio"
	"github.com/roach88/codetape/internal/testutil"
)

const (
	mainGoInitial = "package main\n"
	mainGoFinal   = "package main\nfunc main() {}\n"
)

// writeSession saves a short session to dir: main.go is created at 0,
// gets a line at 0.1 and a comment file appears at 0.2.
func writeSession(t *testing.T, dir string) {
	t.Helper()

	blobs := sessionio.Blobs(dir)
	_, err := blobs.WriteBlob([]byte(mainGoInitial))
	require.NoError(t, err)

	mainGo := ir.WorkspaceURI("main.go")
	log := testutil.RecordLogWith(t, blobs,
		ir.NewFsCreate(0, mainGo, testutil.Blob(mainGoInitial)),
		testutil.Insert(0.1, mainGo, 1, 0, "func main() {}\n"),
		testutil.CreateEmpty(0.2, ir.WorkspaceURI("NOTES")),
	)
	sess := sessionio.New("session-1", "demo", ir.LF, testutil.Epoch)
	sess.SetLog(log)
	require.NoError(t, sessionio.Save(dir, sess, testutil.Epoch))
}

// testRootOpts returns options that read no config file.
func testRootOpts(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{Format: format, ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestLoadSession(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir)

	ls, err := loadSession(dir)
	require.NoError(t, err)
	assert.Equal(t, "session-1", ls.Session.Head.ID)
	assert.Equal(t, 3, ls.Log.Len())
	assert.Equal(t, 0.2, ls.Session.Head.Duration)
	assert.True(t, ls.Blobs.Has(ir.BlobHash([]byte(mainGoInitial))))
}

func TestLoadSession_NotFound(t *testing.T) {
	_, err := loadSession(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadSession_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionio.HeadFile), []byte("{not json"), 0o644))

	_, err := loadSession(dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeMalformed, loadErr.Code)
}

func TestNewPlayer_Headless(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir)
	ls, err := loadSession(dir)
	require.NoError(t, err)

	player := ls.newPlayer(nil, nil)
	_, err = player.SeekNow(t.Context(), 1, false)
	require.NoError(t, err)

	text, ok := player.Workspace().Text(ir.WorkspaceURI("main.go"))
	require.True(t, ok)
	assert.Equal(t, mainGoFinal, text)
	assert.IsType(t, headlessAdapter{}, player.Adapter())
}
