package ptrace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"honnef.co/go/teamtrace/trace"
)

func TestComputeStatistics(t *testing.T) {
	ivs := Intervals{
		iv(0, 0, 4, StateActive),
		iv(0, 4, 5, StateIdleInParallel),
		iv(0, 5, 7, StateActive),
		iv(0, 7, 10, StateIdleInParallel),
		iv(0, 10, 16, StateActive),
	}
	stats := ComputeStatistics(ivs)

	us := time.Microsecond
	assert.Equal(t, Statistic{
		Count:   3,
		Min:     2 * us,
		Max:     6 * us,
		Total:   12 * us,
		Average: float64(4 * us),
		Median:  float64(4 * us),
	}, stats[StateActive])
	assert.Equal(t, Statistic{
		Count:   2,
		Min:     1 * us,
		Max:     3 * us,
		Total:   4 * us,
		Average: float64(2 * us),
		Median:  float64(2 * us),
	}, stats[StateIdleInParallel])
	assert.Equal(t, Statistic{}, stats[StateIdleSequential])
	assert.Equal(t, 16*us, stats.Total())
	assert.Equal(t, 4*us, stats.Idle())
}

func TestComputeUtilization(t *testing.T) {
	th := &Thread{
		Intervals: Intervals{
			iv(0, 0, 15, StateActive),
			iv(0, 15, 30, StateIdleInParallel),
			iv(0, 30, 35, StateActive),
		},
	}
	got := ComputeUtilization(th, 0, 40, 10*time.Microsecond)
	assert.Equal(t, []int{100, 50, 0, 50}, got)

	// Buckets are relative to the requested start.
	got = ComputeUtilization(th, -10, 40, 25*time.Microsecond)
	assert.Equal(t, []int{60, 20}, got)

	assert.Nil(t, ComputeUtilization(th, 5, 5, time.Microsecond))
}

func TestSummarize(t *testing.T) {
	tr := build(t,
		ev(0, 0, trace.ParallelBegin),
		trace.Event{Thread: 0, Ts: 2, Category: trace.WorkBegin, WorkCount: 100},
		trace.Event{Thread: 0, Ts: 6, Category: trace.WorkEnd, WorkCount: 100},
		ev(0, 6, trace.SyncEnter),
		ev(0, 8, trace.SyncExit),
		ev(0, 10, trace.ParallelEnd),
		ev(1, 4, trace.TaskBegin),
		ev(1, 5, trace.SyncEnter),
		ev(1, 8, trace.SyncExit),
		ev(1, 12, trace.TaskEnd),
		annotation(1, 6, "inside"),
	)
	s := tr.Summary
	us := time.Microsecond
	assert.Equal(t, 2, s.Threads)
	assert.Equal(t, 10, s.Events)
	assert.Equal(t, 1, s.Markers)
	assert.Equal(t, trace.Timestamp(0), s.Start)
	assert.Equal(t, trace.Timestamp(12), s.End)
	assert.Equal(t, 12*us, s.Span)
	assert.Equal(t, 18*us, s.ThreadTime)
	assert.Equal(t, 13*us, s.Totals[StateActive])
	assert.Equal(t, 5*us, s.Totals[StateIdleInParallel])
	assert.Equal(t, time.Duration(0), s.Totals[StateIdleSequential])
	assert.InDelta(t, 72.22, s.Percent(StateActive), 0.01)
	assert.Equal(t, uint64(100), s.WorkItems)
	assert.Equal(t, 4*us, s.WorkTime)
	assert.Equal(t, 2, s.Regions)
	assert.Equal(t, 1, s.ParallelRegions)
	assert.Equal(t, 1, s.ImplicitTasks)
	assert.Equal(t, 2, s.SyncEvents)
	assert.Equal(t, 0, s.Truncated)

	t1 := tr.Threads[1].Summary
	assert.Equal(t, 1, t1.Markers)
	assert.Equal(t, 8*us, t1.Lifetime)
	assert.Equal(t, 62.5, t1.Percent(StateActive))
	assert.Equal(t, 37.5, t1.Percent(StateIdleInParallel))
}

func TestDiagnosticsCounts(t *testing.T) {
	d := Diagnostics{
		&trace.ParseError{Line: 1, Reason: "malformed timestamp"},
		&UnbalancedRegionError{Thread: 1, Category: trace.ParallelEnd, Want: RegionParallel},
		&OutOfRangeAnnotationWarning{Marker: Marker{Label: "x"}},
		&OutOfOrderWarning{Thread: 2},
		&OutOfOrderWarning{Thread: 3},
		errors.New("something else"),
	}
	counts := d.Counts()
	assert.Equal(t, 1, counts[KindParseError])
	assert.Equal(t, 1, counts[KindUnbalancedRegion])
	assert.Equal(t, 1, counts[KindOutOfRangeAnnotation])
	assert.Equal(t, 2, counts[KindOutOfOrder])
	assert.Equal(t, 1, counts[KindOther])
	assert.Len(t, d.Errors(), 3)
	assert.Equal(t, "UnbalancedRegionError", KindUnbalancedRegion.String())
}
