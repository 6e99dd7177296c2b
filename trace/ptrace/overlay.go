package ptrace

import (
	"sort"

	"honnef.co/go/teamtrace/trace"
)

// Find returns the index of the interval containing ts. An instant on the boundary of two intervals belongs to the
// later one. The thread's final instant, which no half-open interval contains, belongs to the last interval. Find
// returns -1 if ts lies outside of the intervals.
func (ivs Intervals) Find(ts trace.Timestamp) int {
	if len(ivs) == 0 || ts < ivs.Start() || ts > ivs.End() {
		return -1
	}
	idx := sort.Search(len(ivs), func(i int) bool {
		return ivs[i].End > ts
	})
	if idx == len(ivs) {
		// ts == ivs.End()
		idx--
	}
	return idx
}

// Overlay attaches markers, which must be sorted by timestamp, to the thread's intervals. Markers outside the
// thread's lifetime are dropped, and an OutOfRangeAnnotationWarning is returned for each of them.
func Overlay(t *Thread, markers []Marker) []error {
	var errs []error
	for _, m := range markers {
		idx := t.Intervals.Find(m.Ts)
		if idx == -1 {
			errs = append(errs, &OutOfRangeAnnotationWarning{
				Marker: m,
				First:  t.First,
				Last:   t.Last,
			})
			t.DroppedMarkers++
			continue
		}
		iv := &t.Intervals[idx]
		iv.Markers = append(iv.Markers, m)
		t.Markers = append(t.Markers, m)
	}
	return errs
}
