package workspace

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/codetape/internal/eventlog"
	"github.com/roach88/codetape/internal/ir"
)

var (
	uriA       = ir.WorkspaceURI("a.txt")
	uriB       = ir.WorkspaceURI("b.txt")
	uriScratch = ir.UntitledURI("scratch")
)

type mapBlobs struct {
	data  map[string][]byte
	reads int
}

func newMapBlobs(contents ...string) *mapBlobs {
	b := &mapBlobs{data: make(map[string][]byte)}
	for _, c := range contents {
		b.data[ir.BlobHash([]byte(c))] = []byte(c)
	}
	return b
}

func (b *mapBlobs) ReadBlob(hash string) ([]byte, error) {
	b.reads++
	data, ok := b.data[hash]
	if !ok {
		return nil, fmt.Errorf("no blob %s", hash)
	}
	return data, nil
}

// recorder wraps a recording workspace for building test sessions.
type recorder struct {
	t  *testing.T
	ws *Workspace
}

func newRecorder(t *testing.T, opts ...Option) *recorder {
	t.Helper()
	log := eventlog.New()
	log.StartRecording()
	return &recorder{t: t, ws: New(log, opts...)}
}

func (r *recorder) record(ev ir.Event) ir.Event {
	r.t.Helper()
	stored, err := r.ws.RecordEvent(ev)
	require.NoError(r.t, err, ev.String())
	return stored
}

func (r *recorder) finish() *eventlog.Container {
	r.ws.Log().StopRecording()
	return r.ws.Log()
}

func insert(clock float64, uri string, line, char int, text string) ir.Event {
	return ir.NewTextChange(clock, uri, ir.ContentChange{Range: ir.R(line, char, line, char), Text: text})
}

// helloWorldLog records an empty a.txt at clock 0 and two inserts at 1 and 2.
func helloWorldLog(t *testing.T) *eventlog.Container {
	r := newRecorder(t)
	r.record(ir.NewFsCreate(0, uriA, ir.FileRef{Type: ir.FileEmpty}))
	r.record(insert(1, uriA, 0, 0, "hello"))
	r.record(insert(2, uriA, 0, 5, " world"))
	return r.finish()
}

func seekStepwise(t *testing.T, ws *Workspace, clock float64) SeekData {
	t.Helper()
	sd := ws.GetSeekData(clock)
	for _, step := range sd.Steps {
		require.NoError(t, ws.ApplySeekStep(step, sd.Direction))
	}
	ws.SetClock(sd.Clock)
	return sd
}

func seekWholesale(t *testing.T, ws *Workspace, clock float64) SeekData {
	t.Helper()
	sd := ws.GetSeekData(clock)
	require.NoError(t, ws.SeekWithData(sd, nil))
	return sd
}

func stepIDs(sd SeekData) []int64 {
	out := make([]int64, len(sd.Steps))
	for i, s := range sd.Steps {
		out[i] = s.ID
	}
	return out
}

func TestSeek_HelloWorld(t *testing.T) {
	ws := New(helloWorldLog(t))

	seekWholesale(t, ws, 0)
	text, ok := ws.Text(uriA)
	require.True(t, ok)
	assert.Equal(t, "", text)

	sd := ws.GetSeekData(2.0)
	assert.Equal(t, Forwards, sd.Direction)
	assert.Equal(t, []int64{2, 3}, stepIDs(sd))
	assert.True(t, sd.Stop)
	require.NoError(t, ws.SeekWithData(sd, nil))

	text, _ = ws.Text(uriA)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, 2.0, ws.Clock())

	sd = ws.GetSeekData(0)
	assert.Equal(t, Backwards, sd.Direction)
	assert.Equal(t, []int64{3, 2}, stepIDs(sd))
	assert.False(t, sd.Stop)
	require.NoError(t, ws.SeekWithData(sd, nil))

	text, _ = ws.Text(uriA)
	assert.Equal(t, "", text)
	assert.Equal(t, 0.0, ws.Clock())
}

func TestSeek_FreshWorkspaceAppliesClockZeroEvents(t *testing.T) {
	ws := New(helloWorldLog(t))
	assert.Equal(t, 0, ws.Applied())

	sd := ws.GetSeekData(0)
	assert.Equal(t, []int64{1}, stepIDs(sd))
}

func TestGetSeekData_ClampsTarget(t *testing.T) {
	ws := New(helloWorldLog(t))

	sd := ws.GetSeekData(99)
	assert.Equal(t, 2.0, sd.Clock)
	assert.True(t, sd.Stop)
	assert.Len(t, sd.Steps, 3)

	sd = ws.GetSeekData(-5)
	assert.Equal(t, 0.0, sd.Clock)
	assert.Len(t, sd.Steps, 1)
}

func TestGetSeekData_DurationBeyondLastEvent(t *testing.T) {
	ws := New(helloWorldLog(t), WithDuration(10))
	sd := ws.GetSeekData(5)
	assert.Equal(t, 5.0, sd.Clock)
	assert.False(t, sd.Stop)
	assert.Equal(t, 10.0, ws.Duration())
}

func TestSeek_Idempotent(t *testing.T) {
	ws := New(helloWorldLog(t))
	seekWholesale(t, ws, 1.5)
	before := ws.Snapshot()

	sd := ws.GetSeekData(1.5)
	assert.Empty(t, sd.Steps)
	require.NoError(t, ws.SeekWithData(sd, nil))
	assert.Equal(t, before, ws.Snapshot())
}

func TestApplySeekStep_OutOfOrderIsDesync(t *testing.T) {
	ws := New(helloWorldLog(t))
	sd := ws.GetSeekData(2)

	err := ws.ApplySeekStep(sd.Steps[1], Forwards)
	assert.ErrorIs(t, err, ErrDesync)
	assert.Equal(t, 0, ws.Applied())

	err = ws.ApplySeekStep(sd.Steps[0], Backwards)
	assert.ErrorIs(t, err, ErrDesync)
}

func TestApplySeekStep_BackwardsClockFollowsLastApplied(t *testing.T) {
	ws := New(helloWorldLog(t))
	seekStepwise(t, ws, 2)

	sd := ws.GetSeekData(0)
	require.NoError(t, ws.ApplySeekStep(sd.Steps[0], Backwards))
	assert.Equal(t, 1.0, ws.Clock())
	require.NoError(t, ws.ApplySeekStep(sd.Steps[1], Backwards))
	assert.Equal(t, 0.0, ws.Clock())
}

func TestSeekWithData_CollectsTouchedURIs(t *testing.T) {
	r := newRecorder(t)
	r.record(ir.NewFsCreate(0, uriA, ir.FileRef{Type: ir.FileEmpty}))
	r.record(ir.NewOpenTextDocument(0, uriScratch, ir.StringPtr("x"), ir.LF))
	r.record(ir.NewShowTextEditor(1, uriScratch, nil, ir.R(0, 0, 1, 0)))
	r.record(ir.NewShowTextEditor(2, uriA, nil, ir.R(0, 0, 1, 0)))
	ws := New(r.finish())

	uris := make(map[string]struct{})
	require.NoError(t, ws.SeekWithData(ws.GetSeekData(2), uris))
	assert.Equal(t, map[string]struct{}{uriA: {}, uriScratch: {}}, uris)
}

func TestRecordEvent_RequiresEnd(t *testing.T) {
	log := helloWorldLog(t)
	ws := New(log)
	log.StartRecording()

	_, err := ws.RecordEvent(ir.NewSave(3, uriA))
	assert.ErrorIs(t, err, ErrNotAtEnd)

	seekWholesale(t, ws, 2)
	ev, err := ws.RecordEvent(ir.NewSave(3, uriA))
	require.NoError(t, err)
	assert.Equal(t, int64(4), ev.ID)
	assert.Equal(t, 3.0, ws.Duration())
}

func TestRecordEvent_RequiresRecording(t *testing.T) {
	ws := New(eventlog.New())
	_, err := ws.RecordEvent(ir.NewFsCreate(0, uriA, ir.FileRef{Type: ir.FileEmpty}))
	assert.ErrorIs(t, err, eventlog.ErrNotRecording)
}

func TestRecordEvent_RaisesClock(t *testing.T) {
	r := newRecorder(t)
	r.record(ir.NewFsCreate(5, uriA, ir.FileRef{Type: ir.FileEmpty}))
	ev := r.record(ir.NewSave(1, uriA))
	assert.Equal(t, 5.0, ev.Clock)
}

func TestRecordEvent_FailedApplyLeavesNoTrace(t *testing.T) {
	r := newRecorder(t)
	r.record(ir.NewFsCreate(0, uriA, ir.FileRef{Type: ir.FileEmpty}))

	_, err := r.ws.RecordEvent(insert(1, uriA, 3, 0, "nope"))
	assert.ErrorIs(t, err, ErrDesync)
	assert.Equal(t, 1, r.ws.Log().Len())
	assert.Equal(t, 1, r.ws.Applied())

	_, err = r.ws.RecordEvent(ir.NewSelect(1, uriA, nil, ir.R(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrDesync)
}

func TestRecordEvent_FillsReverseData(t *testing.T) {
	r := newRecorder(t)
	r.record(ir.NewFsCreate(0, uriA, ir.FileRef{Type: ir.FileEmpty}))
	r.record(insert(1, uriA, 0, 0, "abc\ndef"))

	show := r.record(ir.NewShowTextEditor(2, uriA, []ir.Selection{ir.Caret(ir.NewPosition(1, 1))}, ir.R(0, 0, 10, 0)))
	assert.True(t, show.ShowTextEditor.Opened)
	assert.Equal(t, "", show.ShowTextEditor.RevURI)

	sel := r.record(ir.NewSelect(3, uriA, []ir.Selection{ir.NewSelection(ir.NewPosition(0, 0), ir.NewPosition(0, 3))}, ir.R(0, 0, 10, 0)))
	assert.Equal(t, []ir.Selection{ir.Caret(ir.NewPosition(1, 1))}, sel.Select.RevSelections)

	again := r.record(ir.NewShowTextEditor(4, uriA, nil, ir.R(1, 0, 11, 0)))
	assert.False(t, again.ShowTextEditor.Opened)
	assert.Equal(t, uriA, again.ShowTextEditor.RevURI)
	require.NotNil(t, again.ShowTextEditor.RevVisibleRange)
	assert.Equal(t, ir.R(0, 0, 10, 0), *again.ShowTextEditor.RevVisibleRange)
	assert.Equal(t, sel.Select.Selections, again.ShowTextEditor.Selections)

	closed := r.record(ir.NewCloseTextEditor(5, uriA))
	assert.True(t, closed.CloseTextEditor.RevActive)
	assert.Equal(t, ir.R(1, 0, 11, 0), closed.CloseTextEditor.RevVisibleRange)

	del := r.record(ir.NewFsDelete(6, uriA))
	require.NotNil(t, del.FsDelete.RevText)
	assert.Equal(t, "abc\ndef", *del.FsDelete.RevText)
	assert.Equal(t, ir.FileRef{Type: ir.FileEmpty}, del.FsDelete.RevFile)

	// Walk back one event at a time and check a few intermediate states.
	ws := New(r.finish())
	seekWholesale(t, ws, 6)
	_, ok := ws.Text(uriA)
	assert.False(t, ok)

	seekStepwise(t, ws, 5)
	text, ok := ws.Text(uriA)
	require.True(t, ok)
	assert.Equal(t, "abc\ndef", text)
	assert.Equal(t, "", ws.ActiveURI())

	seekStepwise(t, ws, 4)
	ed, ok := ws.Editor(uriA)
	require.True(t, ok)
	assert.Equal(t, ir.R(1, 0, 11, 0), ed.VisibleRange)
	assert.Equal(t, uriA, ws.ActiveURI())

	seekStepwise(t, ws, 3)
	ed, _ = ws.Editor(uriA)
	assert.Equal(t, ir.R(0, 0, 10, 0), ed.VisibleRange)

	seekStepwise(t, ws, 1.5)
	_, ok = ws.Editor(uriA)
	assert.False(t, ok)
	assert.Equal(t, "", ws.ActiveURI())
}

func TestUntitledDocumentLifecycle(t *testing.T) {
	r := newRecorder(t)
	r.record(ir.NewOpenTextDocument(0, uriScratch, ir.StringPtr("one\r\ntwo"), ir.LF))
	r.record(insert(1, uriScratch, 1, 3, "!"))
	closed := r.record(ir.NewCloseTextDocument(2, uriScratch))
	assert.Equal(t, "one\r\ntwo!", closed.CloseTextDocument.RevText)
	assert.Equal(t, ir.CRLF, closed.CloseTextDocument.RevEOL)

	ws := New(r.finish())
	seekWholesale(t, ws, 2)
	_, ok := ws.Text(uriScratch)
	assert.False(t, ok)

	seekWholesale(t, ws, 1)
	text, ok := ws.Text(uriScratch)
	require.True(t, ok)
	assert.Equal(t, "one\r\ntwo!", text)

	seekWholesale(t, ws, 0)
	text, _ = ws.Text(uriScratch)
	assert.Equal(t, "one\r\ntwo", text)
}

func TestWorktreeBlobs(t *testing.T) {
	blobs := newMapBlobs("package main\n", "\x89PNG\x00")
	src := ir.BlobHash([]byte("package main\n"))
	img := ir.BlobHash([]byte("\x89PNG\x00"))

	r := newRecorder(t, WithBlobs(blobs))
	r.record(ir.NewFsCreate(0, ir.WorkspaceURI("src"), ir.FileRef{Type: ir.FileDir}))
	r.record(ir.NewFsCreate(0, ir.WorkspaceURI("src/main.go"), ir.FileRef{Type: ir.FileBlob, Hash: src}))
	r.record(ir.NewFsCreate(0, ir.WorkspaceURI("logo.png"), ir.FileRef{Type: ir.FileBlob, Hash: img}))
	r.record(ir.NewFsDelete(1, ir.WorkspaceURI("src/main.go")))
	log := r.finish()

	playback := newMapBlobs("package main\n", "\x89PNG\x00")
	ws := New(log, WithBlobs(playback))
	require.NoError(t, ws.Preload(context.Background()))
	assert.Equal(t, 2, playback.reads)

	seekWholesale(t, ws, 0)
	text, ok := ws.Text(ir.WorkspaceURI("src/main.go"))
	require.True(t, ok)
	assert.Equal(t, "package main\n", text)
	_, ok = ws.Text(ir.WorkspaceURI("logo.png"))
	assert.False(t, ok, "binary files do not become documents")
	assert.Len(t, ws.Worktree(), 3)

	seekWholesale(t, ws, 1)
	seekStepwise(t, ws, 0)
	text, _ = ws.Text(ir.WorkspaceURI("src/main.go"))
	assert.Equal(t, "package main\n", text)
	assert.Equal(t, 2, playback.reads, "seeking after preload does not read blobs")
}

func TestPreload_MissingBlob(t *testing.T) {
	hash := ir.BlobHash([]byte("x"))
	log, err := eventlog.FromEvents([]ir.Event{{ID: 1, URI: uriA, Type: ir.EventFsCreate, FsCreate: &ir.FsCreate{File: ir.FileRef{Type: ir.FileBlob, Hash: hash}}}})
	require.NoError(t, err)

	err = New(log).Preload(context.Background())
	assert.ErrorIs(t, err, ErrMissingBlob)

	err = New(log, WithBlobs(newMapBlobs())).Preload(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = New(log, WithBlobs(newMapBlobs("x"))).Preload(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeek_RoundTripRestoresSnapshot(t *testing.T) {
	log, blobs := scriptSession(t, 120, 3)
	ws := New(log, WithBlobs(blobs))
	dur := ws.Duration()

	for _, from := range []float64{0, dur / 3, dur / 2, dur} {
		seekWholesale(t, ws, from)
		want := ws.Snapshot()
		for _, to := range []float64{0, dur / 4, dur * 0.9, dur} {
			seekStepwise(t, ws, to)
			seekWholesale(t, ws, from)
			require.Equal(t, want, ws.Snapshot(), "from %g via %g", from, to)
		}
	}
}

func TestSeek_StrategyEquivalence(t *testing.T) {
	log, blobs := scriptSession(t, 150, 11)
	wholesale := New(log, WithBlobs(blobs))
	stepwise := New(log, WithBlobs(blobs))
	dur := wholesale.Duration()

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 40; i++ {
		target := rng.Float64() * dur
		seekWholesale(t, wholesale, target)
		seekStepwise(t, stepwise, target)
		require.Equal(t, wholesale.Snapshot(), stepwise.Snapshot(), "target %g", target)
	}
}

func TestSeek_TwoHundredEvents(t *testing.T) {
	log, blobs := scriptSession(t, 200, 42)
	require.Equal(t, 200, log.Len())
	clock150 := log.At(149).Clock
	clock80 := log.At(79).Clock

	ws := New(log, WithBlobs(blobs))
	seekWholesale(t, ws, clock150)
	sd := seekStepwise(t, ws, clock80)
	assert.Equal(t, Backwards, sd.Direction)

	direct := New(log, WithBlobs(blobs))
	seekStepwise(t, direct, clock80)

	got, want := ws.Snapshot(), direct.Snapshot()
	for uri, doc := range want.Documents {
		assert.Equal(t, doc.Text, got.Documents[uri].Text, uri)
	}
	assert.Equal(t, want, got)
}

// scriptSession records n pseudo-random events over a.txt, b.txt and an
// untitled buffer. Every other pair of events shares a clock.
func scriptSession(t *testing.T, n int, seed int64) (*eventlog.Container, *mapBlobs) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	blobs := newMapBlobs("first line\nsecond line\n")
	r := newRecorder(t, WithBlobs(blobs))

	clock := func(i int) float64 { return float64(i/2) * 0.25 }
	r.record(ir.NewFsCreate(clock(0), uriA, ir.FileRef{Type: ir.FileBlob, Hash: ir.BlobHash([]byte("first line\nsecond line\n"))}))
	r.record(ir.NewFsCreate(clock(1), uriB, ir.FileRef{Type: ir.FileEmpty}))
	r.record(ir.NewOpenTextDocument(clock(2), uriScratch, ir.StringPtr("scratch"), ir.LF))
	r.record(ir.NewShowTextEditor(clock(3), uriA, nil, ir.R(0, 0, 20, 0)))

	uris := []string{uriA, uriB, uriScratch}
	words := []string{"x", "go ", "\n", "func", "}\n", "ab\ncd"}

	for i := 4; i < n; i++ {
		c := clock(i)
		active := r.ws.ActiveURI()
		switch k := rng.Intn(10); {
		case k < 5:
			uri := uris[rng.Intn(len(uris))]
			r.record(ir.NewTextChange(c, uri, randomChanges(rng, r.ws, uri, words)...))
		case k == 5 && active != "":
			doc, _ := r.ws.Document(active)
			line := rng.Intn(doc.LineCount())
			p := ir.NewPosition(line, rng.Intn(len(doc.Line(line))+1))
			r.record(ir.NewSelect(c, active, []ir.Selection{ir.Caret(p)}, ir.R(line, 0, line+20, 0)))
		case k == 6 && active != "":
			top := rng.Intn(5)
			r.record(ir.NewScroll(c, active, ir.R(top, 0, top+20, 0)))
		case k == 7:
			r.record(ir.NewShowTextEditor(c, uris[rng.Intn(len(uris))], nil, ir.R(0, 0, 20, 0)))
		case k == 8:
			uri := uris[rng.Intn(len(uris))]
			if _, ok := r.ws.Editor(uri); ok {
				r.record(ir.NewCloseTextEditor(c, uri))
			} else {
				r.record(ir.NewSave(c, uri))
			}
		default:
			r.record(ir.NewSave(c, uris[rng.Intn(len(uris))]))
		}
	}
	return r.finish(), blobs
}

// randomChanges builds one or two sorted changes against the current text.
// Documents only ever contain ASCII, so byte and UTF-16 offsets agree.
func randomChanges(rng *rand.Rand, ws *Workspace, uri string, words []string) []ir.ContentChange {
	doc, _ := ws.Document(uri)
	pick := func(minLine int) ir.Position {
		line := minLine + rng.Intn(doc.LineCount()-minLine)
		return ir.NewPosition(line, rng.Intn(len(doc.Line(line))+1))
	}

	start := pick(0)
	end := start
	if rng.Intn(2) == 0 {
		end = ir.NewPosition(start.Line, start.Character+rng.Intn(len(doc.Line(start.Line))-start.Character+1))
	}
	changes := []ir.ContentChange{{Range: ir.Range{Start: start, End: end}, Text: words[rng.Intn(len(words))]}}

	if end.Line+1 < doc.LineCount() && rng.Intn(2) == 0 {
		p := pick(end.Line + 1)
		q := ir.NewPosition(p.Line, len(doc.Line(p.Line)))
		changes = append(changes, ir.ContentChange{Range: ir.Range{Start: p, End: q}, Text: strings.ToUpper(doc.Line(p.Line)[p.Character:])})
	}
	return changes
}
