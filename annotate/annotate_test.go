package annotate

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/teamtrace/trace"
)

func TestAnnotate(t *testing.T) {
	var buf bytes.Buffer
	a := New(Config{
		Enabled: true,
		Out:     &buf,
		Clock:   func() trace.Timestamp { return 12345 },
		Thread:  func() int { return 3 },
	})
	a.Annotate("phase one")
	a.MarkROIStart()
	a.Annotate("multi\nline   label")
	a.Annotate(" \n ")
	a.MarkROIEnd()
	require.NoError(t, a.Err())

	assert.Equal(t,
		"[OMPT_annotation] Thread 3 Annotation at 12.345 ms: phase one\n"+
			"[OMPT_annotation] Thread 3 Annotation at 12.345 ms: ROI_START\n"+
			"[OMPT_annotation] Thread 3 Annotation at 12.345 ms: multi line label\n"+
			"[OMPT_annotation] Thread 3 Annotation at 12.345 ms: ROI_END\n",
		buf.String())

	res, err := trace.Parse(strings.NewReader(buf.String()+"[OMPT] Thread 3 PARALLEL END at 13.000 ms\n"), true)
	require.NoError(t, err)
	require.Len(t, res.Events, 5)
	assert.Equal(t, trace.Event{Thread: 3, Ts: 12345, Category: trace.Annotation, Label: ROIStart, Line: 2}, res.Events[1])
}

func TestDisabled(t *testing.T) {
	var buf bytes.Buffer
	called := false
	a := New(Config{
		Out:   &buf,
		Clock: func() trace.Timestamp { called = true; return 0 },
	})
	assert.False(t, a.Enabled())
	a.Annotate("nothing")
	a.MarkROIStart()
	assert.Zero(t, buf.Len())
	assert.False(t, called)

	var nilAnnotator *Annotator
	nilAnnotator.Annotate("nothing")
	assert.NoError(t, nilAnnotator.Err())
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvToolLibraries, "/opt/lib/libompt_tool.so")
	assert.True(t, FromEnv().Enabled)
	// Set but empty still counts as loaded.
	t.Setenv(EnvToolLibraries, "")
	assert.True(t, FromEnv().Enabled)
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(b []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestWriteError(t *testing.T) {
	w := &failingWriter{}
	a := New(Config{Enabled: true, Out: w})
	a.Annotate("a")
	a.Annotate("b")
	assert.EqualError(t, a.Err(), "disk full")
	assert.Equal(t, 1, w.n)
}

func TestConcurrentAnnotate(t *testing.T) {
	var buf bytes.Buffer
	a := New(Config{Enabled: true, Out: &buf})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Annotate("tick")
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 800)
	for i, line := range lines {
		_, ok, err := trace.ParseLine(line, i+1)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestMonotonicClock(t *testing.T) {
	a := MonotonicClock()
	b := MonotonicClock()
	assert.GreaterOrEqual(t, int64(b), int64(a))
	assert.GreaterOrEqual(t, int64(a), int64(0))
}
