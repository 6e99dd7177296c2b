package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/teamtrace/report"
	"honnef.co/go/teamtrace/trace"
)

const capture = `[OMPT] Thread 0 PARALLEL BEGIN at 0.000 ms (requested threads: 2)
[OMPT] Thread 0 WORK START at 1.000 ms (type: loop, count: 8)
[OMPT] Thread 0 WORK END at 5.000 ms (type: loop, count: 8)
[OMPT] Thread 0 ENTER barrier at 5.000 ms
[OMPT] Thread 0 EXIT barrier at 9.000 ms
[OMPT] Thread 0 PARALLEL END at 10.000 ms
[OMPT] Thread 1 ENTER taskwait at 2.000 ms
[OMPT] Thread 1 EXIT taskwait at 7.000 ms
`

func writeCapture(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.log")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestRunReconstruct(t *testing.T) {
	path := writeCapture(t, capture)
	var stdout, stderr bytes.Buffer
	err := runReconstruct(context.Background(), reconstructConfig{Path: path, Format: report.FormatJSON}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Empty(t, stderr.String())

	var r report.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &r))
	assert.Equal(t, 2, r.Summary.Threads)
	assert.Len(t, r.Intervals, 4)
	assert.Equal(t, "IDLE_SEQUENTIAL", r.Intervals[3].State)
	assert.Equal(t, int64(5000), r.Intervals[3].DurationUs)
	assert.Empty(t, r.Timeline)

	stdout.Reset()
	cfg := reconstructConfig{Path: path, Format: report.FormatJSON, Timeline: true}
	require.NoError(t, runReconstruct(context.Background(), cfg, &stdout, &stderr))
	r = report.Report{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &r))
	require.Len(t, r.Timeline, 8)
	assert.Equal(t, report.TimelineEntry{TsUs: 2000, RelUs: 2000, Thread: 1, Category: "SYNC_ENTER", Details: "taskwait"}, r.Timeline[2])
}

func TestRunReconstructDiagnostics(t *testing.T) {
	path := writeCapture(t, capture+
		"[OMPT] Thread 2 PARALLEL END at 3.000 ms\n"+
		"[OMPT] Thread 0 PARALLEL END at soon ms\n")

	var stdout, stderr bytes.Buffer
	out := filepath.Join(t.TempDir(), "out.csv")
	cfg := reconstructConfig{Path: path, Format: report.FormatCSV, Output: out}
	require.NoError(t, runReconstruct(context.Background(), cfg, &stdout, &stderr))
	assert.Empty(t, stdout.String())
	assert.Equal(t,
		"2 diagnostics (ParseError: 1, UnbalancedRegionError: 1)\n"+
			"1 thread(s) truncated due to unbalanced regions\n",
		stderr.String())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0,0,5000,5000,ACTIVE,\n")

	// Strict mode fails on the first malformed line.
	cfg.Strict = true
	err = runReconstruct(context.Background(), cfg, &stdout, &stderr)
	var perr *trace.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 10, perr.Line)
}

func TestRunReconstructEmpty(t *testing.T) {
	path := writeCapture(t, "OMPT Tool Initialized\nhello world\n")
	var stdout, stderr bytes.Buffer
	err := runReconstruct(context.Background(), reconstructConfig{Path: path, Format: report.FormatText}, &stdout, &stderr)
	assert.ErrorIs(t, err, trace.ErrEmptyTrace)
	assert.Empty(t, stdout.String())
}

func TestRootCommand(t *testing.T) {
	path := writeCapture(t, capture)
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"reconstruct", "--format", "text", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "Trace: 2 threads, 8 events, 0 annotations, span 10.000 ms")
	assert.Contains(t, stdout.String(), "Timeline (8 events, 0 annotations):\n"+
		"  +0.000 ms  thread 0    PARALLEL_BEGIN requested threads: 2\n"+
		"  +1.000 ms  thread 0    WORK_BEGIN     type: loop, count: 8\n"+
		"  +2.000 ms  thread 1    SYNC_ENTER     taskwait\n")

	rootCmd.SetArgs([]string{"reconstruct", "--format", "xml", path})
	assert.ErrorContains(t, rootCmd.Execute(), `unknown format "xml"`)

	stdout.Reset()
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "(no version)")
}
