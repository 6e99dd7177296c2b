package ptrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/teamtrace/trace"
)

func TestIntervalsFind(t *testing.T) {
	ivs := Intervals{
		iv(0, 10, 20, StateActive),
		iv(0, 20, 25, StateIdleInParallel),
		iv(0, 25, 40, StateActive),
	}
	tests := []struct {
		ts   trace.Timestamp
		want int
	}{
		{9, -1},
		{10, 0},
		{19, 0},
		{20, 1}, // boundaries belong to the later interval
		{24, 1},
		{25, 2},
		{39, 2},
		{40, 2}, // the final instant belongs to the last interval
		{41, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ivs.Find(tt.ts), "ts %d", tt.ts)
	}
	assert.Equal(t, -1, Intervals(nil).Find(0))
}

func TestOverlay(t *testing.T) {
	th := &Thread{
		ID:    3,
		First: 10,
		Last:  40,
		Intervals: Intervals{
			iv(3, 10, 20, StateActive),
			iv(3, 20, 40, StateIdleSequential),
		},
	}
	markers := []Marker{
		{Thread: 3, Ts: 5, Label: "early"},
		{Thread: 3, Ts: 10, Label: "start"},
		{Thread: 3, Ts: 20, Label: "edge"},
		{Thread: 3, Ts: 40, Label: "end"},
		{Thread: 3, Ts: 41, Label: "late"},
	}
	errs := Overlay(th, markers)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Equal(t, KindOutOfRangeAnnotation, KindOf(err))
		assert.True(t, KindOf(err).IsWarning())
	}
	assert.Contains(t, errs[0].Error(), `annotation "early" at 0.005 ms is outside the thread's lifetime [0.010, 0.040] ms`)

	assert.Equal(t, markers[1:2], th.Intervals[0].Markers)
	assert.Equal(t, markers[2:4], th.Intervals[1].Markers)
	assert.Equal(t, markers[1:4], th.Markers)
	assert.Equal(t, 2, th.DroppedMarkers)
	assert.NoError(t, th.Validate())
}
