package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func editScenario() *Scenario {
	return &Scenario{
		Name:        "edit",
		Description: "Type into one file",
		Events: []EventStep{
			{Clock: 0, Type: "fsCreate", URI: "a.txt", File: "empty"},
			{Clock: 1, Type: "textChange", URI: "a.txt", Range: []int{0, 0, 0, 0}, Text: strPtr("abc")},
			{Clock: 2, Type: "textChange", URI: "a.txt", Range: []int{0, 1, 0, 2}, Text: strPtr("X")},
		},
		Seeks: []SeekStep{
			{Clock: 2, Expect: &SeekExpect{Texts: map[string]string{"a.txt": "aXc"}, Applied: intPtr(3)}},
			{Clock: 1, Expect: &SeekExpect{Texts: map[string]string{"a.txt": "abc"}}},
		},
	}
}

func TestRun_PassingScenario(t *testing.T) {
	result, err := Run(editScenario())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 2)

	first := result.Trace[0]
	assert.Equal(t, 2.0, first.Clock)
	assert.Equal(t, "forwards", first.Direction)
	assert.Equal(t, "stepwise", first.Strategy)
	assert.Equal(t, []int64{1, 2, 3}, first.Steps)
	assert.Equal(t, []string{
		"apply forwards #1 fsCreate workspace:a.txt",
		"apply forwards #2 textChange workspace:a.txt",
		"apply forwards #3 textChange workspace:a.txt",
	}, first.Adapter)
	assert.Equal(t, []string{`file workspace:a.txt empty`, `doc workspace:a.txt "aXc"`}, first.State)

	second := result.Trace[1]
	assert.Equal(t, "backwards", second.Direction)
	assert.Equal(t, []int64{3}, second.Steps)
}

func TestRun_WholesaleAboveThreshold(t *testing.T) {
	s := editScenario()
	s.StepThreshold = intPtr(0)
	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "wholesale", result.Trace[0].Strategy)
	assert.Equal(t, []string{"sync workspace:a.txt"}, result.Trace[0].Adapter)

	// A seek with no steps syncs nothing.
	s.Seeks = append(s.Seeks, SeekStep{Clock: 1})
	result, err = Run(s)
	require.NoError(t, err)
	assert.Empty(t, result.Trace[2].Steps)
	assert.Empty(t, result.Trace[2].Adapter)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s := editScenario()
	s.Seeks[0].Expect = &SeekExpect{
		Texts:    map[string]string{"a.txt": "abc", "b.txt": ""},
		Files:    map[string]string{"a.txt": "blob"},
		Missing:  []string{"a.txt"},
		Active:   strPtr("a.txt"),
		Applied:  intPtr(1),
		Strategy: "wholesale",
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := ""
	for _, e := range result.Errors {
		joined += e + "\n"
	}
	for _, want := range []string{
		`text of a.txt: expected "abc", got "aXc"`,
		"text of b.txt: no document",
		"file a.txt: expected blob, got empty",
		"file a.txt: expected missing",
		"document a.txt: expected missing",
		`active: expected "workspace:a.txt", got ""`,
		"applied: expected 1, got 3",
		"strategy: expected wholesale, got stepwise",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestRun_AdapterFailure(t *testing.T) {
	s := editScenario()
	s.Seeks = []SeekStep{
		{Clock: 2, FailAdapter: true},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass, "an unexpected adapter error fails the scenario")
	assert.Equal(t, "ADAPTER_SYNC", result.Trace[0].Error)
	assert.Equal(t, []string{"apply forwards #1 fsCreate workspace:a.txt"}, result.Trace[0].Adapter,
		"the player stops calling the adapter after the first failure")

	s.Seeks[0].Expect = &SeekExpect{Error: "ADAPTER_SYNC", Texts: map[string]string{"a.txt": "aXc"}}
	result, err = Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_RecordingErrorIsReturned(t *testing.T) {
	s := editScenario()
	s.Events = append(s.Events, EventStep{Clock: 3, Type: "textChange", URI: "b.txt", Range: []int{0, 0, 0, 0}, Text: strPtr("x")})

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events[3]")
}

func TestRun_ClampsSeekClock(t *testing.T) {
	s := editScenario()
	s.Seeks = []SeekStep{{Clock: 99, Expect: &SeekExpect{Clock: floatPtr(2), Applied: intPtr(3)}}}
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 99.0, result.Trace[0].Seek)
	assert.Equal(t, 2.0, result.Trace[0].Clock)
}

func floatPtr(f float64) *float64 { return &f }

func TestRun_TestdataScenariosPass(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(file, func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
