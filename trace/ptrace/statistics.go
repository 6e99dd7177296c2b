package ptrace

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"honnef.co/go/teamtrace/trace"
)

type Statistic struct {
	Count           int
	Min, Max, Total time.Duration
	Average, Median float64
}

type Statistics [StateLast]Statistic

func (stat *Statistics) Active() time.Duration         { return stat[StateActive].Total }
func (stat *Statistics) IdleInParallel() time.Duration { return stat[StateIdleInParallel].Total }
func (stat *Statistics) IdleSequential() time.Duration { return stat[StateIdleSequential].Total }

func (stat *Statistics) Idle() time.Duration {
	return stat[StateIdleInParallel].Total + stat[StateIdleSequential].Total
}

// Total is the time covered by all intervals.
func (stat *Statistics) Total() time.Duration {
	var out time.Duration
	for i := range stat {
		out += stat[i].Total
	}
	return out
}

func ComputeStatistics(ivs Intervals) Statistics {
	var values [StateLast][]time.Duration
	var stats Statistics

	for i := range ivs {
		iv := &ivs[i]
		stat := &stats[iv.State]
		stat.Count++
		d := iv.Duration()
		if d > stat.Max {
			stat.Max = d
		}
		if d < stat.Min || stat.Min == 0 {
			stat.Min = d
		}
		stat.Total += d
		values[iv.State] = append(values[iv.State], d)
	}

	for state := range stats {
		stat := &stats[state]
		if len(values[state]) == 0 {
			continue
		}
		stat.Average = float64(stat.Total) / float64(len(values[state]))
		slices.Sort(values[state])
		stat.Median = median(values[state])
	}

	return stats
}

// median returns the median of a sorted, non-empty slice.
func median[T constraints.Integer | constraints.Float](sorted []T) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid]+sorted[mid-1]) / 2
	}
	return float64(sorted[mid])
}

// ComputeUtilization divides the span [start, end) into buckets of the given size and returns, for each bucket, the
// rounded percentage of it that the thread spent in StateActive.
func ComputeUtilization(t *Thread, start, end trace.Timestamp, bucketSize time.Duration) []int {
	if end <= start || bucketSize <= 0 {
		return nil
	}
	total := (end - start).Duration()
	buckets := make([]time.Duration, int(math.Ceil(float64(total)/float64(bucketSize))))
	for i := range t.Intervals {
		iv := &t.Intervals[i]
		if iv.State != StateActive {
			continue
		}
		d := iv.Duration()
		offset := (iv.Start - start).Duration()
		bucket := offset / bucketSize
		bucketRemainder := bucketSize - (offset % bucketSize)

		for d > bucketRemainder {
			buckets[bucket] += bucketRemainder
			d -= bucketRemainder
			bucket++
			bucketRemainder = bucketSize
		}
		if d > 0 {
			buckets[bucket] += d
		}
	}

	out := make([]int, len(buckets))
	for i, n := range buckets {
		if n > bucketSize {
			panic(fmt.Sprintf("bucket %d has value %d, which exceeds bucket size of %d", i, n, bucketSize))
		}
		out[i] = int(math.Round((float64(n) / float64(bucketSize)) * 100))
	}
	return out
}

// ThreadSummary is the reduction of a thread's finished timeline.
type ThreadSummary struct {
	Thread      int
	First, Last trace.Timestamp
	Lifetime    time.Duration
	Statistics  Statistics
	Counters
	Regions        int
	Markers        int
	DroppedMarkers int
	Truncated      bool
}

// Percent returns the share of the thread's lifetime spent in state s.
func (s *ThreadSummary) Percent(state State) float64 {
	return percent(s.Statistics[state].Total, s.Lifetime)
}

func percent(d, of time.Duration) float64 {
	if of == 0 {
		return 0
	}
	return float64(d) / float64(of) * 100
}

// SummarizeThread reduces a thread's intervals and counters. The thread must be finalized.
func SummarizeThread(t *Thread) ThreadSummary {
	return ThreadSummary{
		Thread:         t.ID,
		First:          t.First,
		Last:           t.Last,
		Lifetime:       t.Lifetime(),
		Statistics:     ComputeStatistics(t.Intervals),
		Counters:       t.Counters,
		Regions:        len(t.Regions),
		Markers:        len(t.Markers),
		DroppedMarkers: t.DroppedMarkers,
		Truncated:      t.Truncated,
	}
}

// GlobalSummary folds the summaries of all threads.
type GlobalSummary struct {
	Threads    int
	Truncated  int
	Events     int
	Markers    int
	Start, End trace.Timestamp
	// Span is the time between the earliest and the latest event of any thread.
	Span time.Duration
	// Totals are the per-state sums over all threads. Their sum equals ThreadTime.
	Totals     [StateLast]time.Duration
	ThreadTime time.Duration
	Counters
	Regions int
}

func (s *GlobalSummary) Percent(state State) float64 {
	return percent(s.Totals[state], s.ThreadTime)
}

// Summarize folds the summaries of the trace's threads, which must have been computed already.
func Summarize(tr *Trace) GlobalSummary {
	out := GlobalSummary{
		Threads: len(tr.Threads),
		Events:  tr.Events,
		Markers: tr.Markers,
		Start:   tr.Start,
		End:     tr.End,
		Span:    (tr.End - tr.Start).Duration(),
	}
	for _, t := range tr.Threads {
		s := &t.Summary
		if s.Truncated {
			out.Truncated++
		}
		for state := range s.Statistics {
			out.Totals[state] += s.Statistics[state].Total
		}
		out.ThreadTime += s.Lifetime
		out.Regions += s.Regions
		out.Counters.add(&s.Counters)
	}
	return out
}

func (c *Counters) add(o *Counters) {
	c.ParallelRegions += o.ParallelRegions
	c.ImplicitTasks += o.ImplicitTasks
	c.WorkConstructs += o.WorkConstructs
	c.WorkItems += o.WorkItems
	c.SyncEvents += o.SyncEvents
	c.UnenclosedSyncs += o.UnenclosedSyncs
	c.WorkTime += o.WorkTime
	for i := range c.ActiveEntries {
		c.ActiveEntries[i] += o.ActiveEntries[i]
	}
	for i := range c.SyncIdle {
		c.SyncIdle[i] += o.SyncIdle[i]
	}
}
