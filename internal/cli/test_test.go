package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

// copyScenario copies a harness scenario into dir.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRootOpts(t, "text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRootOpts(t, "text")), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOpts(t, "text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOpts(t, "text")), scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ typing")
	assert.Contains(t, out, "✓ files")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOpts(t, "json")), scenariosDir, "--filter", "typ*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "typing", resp.Data.Scenarios[0].Name)
}

func TestTestCommandUpdateAndCompareGolden(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "typing")

	out, err := execute(t, NewTestCommand(testRootOpts(t, "text")), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ typing (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "typing.golden"))
	require.NoError(t, err)
	expected, err := os.ReadFile("../harness/testdata/golden/typing.golden")
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written))

	out, err = execute(t, NewTestCommand(testRootOpts(t, "text")), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ typing\n")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "typing.golden"), []byte("{}\n"), 0o644))
	out, err = execute(t, NewTestCommand(testRootOpts(t, "text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ typing")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: broken
description: expects the wrong text
events:
  - {clock: 0, type: fsCreate, uri: a.txt, file: empty}
seeks:
  - clock: 0
    expect:
      texts: {a.txt: "not this"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, NewTestCommand(testRootOpts(t, "json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "typing.golden"), goldenFilePath(filepath.Join("scenarios", "typing.yaml")))
}
