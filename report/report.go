// Package report converts reconstructed timelines into the representation consumed by renderers.
//
// All times are integer microseconds on the capture's clock. Output is deterministic: the same trace always yields
// byte-identical reports.
package report

import (
	"time"

	"golang.org/x/exp/slices"

	"honnef.co/go/teamtrace/trace"
	"honnef.co/go/teamtrace/trace/ptrace"
)

type Report struct {
	Summary     Summary      `json:"summary" yaml:"summary"`
	Threads     []Thread     `json:"threads" yaml:"threads"`
	Intervals   []Interval   `json:"intervals" yaml:"intervals"`
	Regions     []Region     `json:"regions" yaml:"regions"`
	Diagnostics []Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	// Timeline lists the capture's events and annotations in chronological order, if requested.
	Timeline []TimelineEntry `json:"timeline,omitempty" yaml:"timeline,omitempty"`
}

type Summary struct {
	Threads          int                  `json:"threads" yaml:"threads"`
	TruncatedThreads int                  `json:"truncated_threads" yaml:"truncated_threads"`
	Events           int                  `json:"events" yaml:"events"`
	Markers          int                  `json:"markers" yaml:"markers"`
	StartUs          int64                `json:"start_us" yaml:"start_us"`
	EndUs            int64                `json:"end_us" yaml:"end_us"`
	SpanUs           int64                `json:"span_us" yaml:"span_us"`
	ThreadTimeUs     int64                `json:"thread_time_us" yaml:"thread_time_us"`
	States           map[string]StateTime `json:"states" yaml:"states"`
	Counters         Counters             `json:"counters" yaml:"counters"`
	Regions          int                  `json:"regions" yaml:"regions"`
	Diagnostics      map[string]int       `json:"diagnostics" yaml:"diagnostics"`
}

type StateTime struct {
	TotalUs int64   `json:"total_us" yaml:"total_us"`
	Percent float64 `json:"percent" yaml:"percent"`
}

type Counters struct {
	ParallelRegions int              `json:"parallel_regions" yaml:"parallel_regions"`
	ImplicitTasks   int              `json:"implicit_tasks" yaml:"implicit_tasks"`
	WorkConstructs  int              `json:"work_constructs" yaml:"work_constructs"`
	WorkItems       uint64           `json:"work_items" yaml:"work_items"`
	WorkTimeUs      int64            `json:"work_time_us" yaml:"work_time_us"`
	SyncEvents      int              `json:"sync_events" yaml:"sync_events"`
	UnenclosedSyncs int              `json:"unenclosed_syncs" yaml:"unenclosed_syncs"`
	ActiveEntries   map[string]int   `json:"active_entries" yaml:"active_entries"`
	SyncIdleUs      map[string]int64 `json:"sync_idle_us" yaml:"sync_idle_us"`
}

type Thread struct {
	Thread         int                  `json:"thread" yaml:"thread"`
	FirstUs        int64                `json:"first_us" yaml:"first_us"`
	LastUs         int64                `json:"last_us" yaml:"last_us"`
	LifetimeUs     int64                `json:"lifetime_us" yaml:"lifetime_us"`
	Intervals      int                  `json:"intervals" yaml:"intervals"`
	States         map[string]StateStat `json:"states" yaml:"states"`
	Counters       Counters             `json:"counters" yaml:"counters"`
	Regions        int                  `json:"regions" yaml:"regions"`
	Events         int                  `json:"events" yaml:"events"`
	DroppedEvents  int                  `json:"dropped_events" yaml:"dropped_events"`
	Markers        int                  `json:"markers" yaml:"markers"`
	DroppedMarkers int                  `json:"dropped_markers" yaml:"dropped_markers"`
	Truncated      bool                 `json:"truncated" yaml:"truncated"`
	// Utilization is the percentage of active time per bucket, if requested.
	Utilization []int `json:"utilization,omitempty" yaml:"utilization,omitempty"`
}

type StateStat struct {
	Count     int     `json:"count" yaml:"count"`
	MinUs     int64   `json:"min_us" yaml:"min_us"`
	MaxUs     int64   `json:"max_us" yaml:"max_us"`
	TotalUs   int64   `json:"total_us" yaml:"total_us"`
	AverageUs float64 `json:"average_us" yaml:"average_us"`
	MedianUs  float64 `json:"median_us" yaml:"median_us"`
	Percent   float64 `json:"percent" yaml:"percent"`
}

type Interval struct {
	Thread     int      `json:"thread" yaml:"thread"`
	StartUs    int64    `json:"start_us" yaml:"start_us"`
	EndUs      int64    `json:"end_us" yaml:"end_us"`
	DurationUs int64    `json:"duration_us" yaml:"duration_us"`
	State      string   `json:"state" yaml:"state"`
	Markers    []Marker `json:"markers,omitempty" yaml:"markers,omitempty"`
}

type Marker struct {
	TsUs  int64  `json:"ts_us" yaml:"ts_us"`
	Label string `json:"label" yaml:"label"`
}

type Region struct {
	Thread     int    `json:"thread" yaml:"thread"`
	Kind       string `json:"kind" yaml:"kind"`
	StartUs    int64  `json:"start_us" yaml:"start_us"`
	EndUs      int64  `json:"end_us" yaml:"end_us"`
	DurationUs int64  `json:"duration_us" yaml:"duration_us"`
	TeamSize   int    `json:"team_size" yaml:"team_size"`
	Depth      int    `json:"depth" yaml:"depth"`
}

type TimelineEntry struct {
	TsUs int64 `json:"ts_us" yaml:"ts_us"`
	// RelUs is relative to the first entry of the timeline.
	RelUs      int64  `json:"rel_us" yaml:"rel_us"`
	Thread     int    `json:"thread" yaml:"thread"`
	Annotation bool   `json:"annotation" yaml:"annotation"`
	Category   string `json:"category" yaml:"category"`
	Details    string `json:"details,omitempty" yaml:"details,omitempty"`
}

type Diagnostic struct {
	Kind    string `json:"kind" yaml:"kind"`
	Warning bool   `json:"warning" yaml:"warning"`
	Message string `json:"message" yaml:"message"`
}

type Options struct {
	// UtilizationBucket, if positive, adds per-thread utilization over buckets of this size, measured from the start
	// of the trace.
	UtilizationBucket time.Duration
	// Events, if set, are the capture's events, listed chronologically in Report.Timeline.
	Events []trace.Event
}

func us(d time.Duration) int64 { return int64(d / time.Microsecond) }

func percent(state ptrace.State, s *ptrace.ThreadSummary) float64 { return round(s.Percent(state)) }

// round rounds to two decimals so that reports don't depend on the last bits of floating point division.
func round(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func convertCounters(c *ptrace.Counters) Counters {
	out := Counters{
		ParallelRegions: c.ParallelRegions,
		ImplicitTasks:   c.ImplicitTasks,
		WorkConstructs:  c.WorkConstructs,
		WorkItems:       c.WorkItems,
		WorkTimeUs:      us(c.WorkTime),
		SyncEvents:      c.SyncEvents,
		UnenclosedSyncs: c.UnenclosedSyncs,
		ActiveEntries:   map[string]int{},
		SyncIdleUs:      map[string]int64{},
	}
	for cat, n := range c.ActiveEntries {
		if n != 0 {
			out.ActiveEntries[trace.Category(cat).String()] = n
		}
	}
	for kind, d := range c.SyncIdle {
		if d != 0 {
			out.SyncIdleUs[trace.SyncKind(kind).String()] = us(d)
		}
	}
	return out
}

var reportedStates = [...]ptrace.State{ptrace.StateActive, ptrace.StateIdleInParallel, ptrace.StateIdleSequential}

// New builds the report for a trace. Parse errors are listed ahead of the trace's own diagnostics.
func New(tr *ptrace.Trace, parseErrors []*trace.ParseError, opts Options) *Report {
	r := &Report{
		Threads:     make([]Thread, 0, len(tr.Threads)),
		Intervals:   []Interval{},
		Regions:     []Region{},
		Diagnostics: []Diagnostic{},
	}

	diags := make(ptrace.Diagnostics, 0, len(parseErrors)+len(tr.Diagnostics))
	for _, err := range parseErrors {
		diags = append(diags, err)
	}
	diags = append(diags, tr.Diagnostics...)
	for _, err := range diags {
		kind := ptrace.KindOf(err)
		r.Diagnostics = append(r.Diagnostics, Diagnostic{
			Kind:    kind.String(),
			Warning: kind.IsWarning(),
			Message: err.Error(),
		})
	}

	gs := &tr.Summary
	r.Summary = Summary{
		Threads:          gs.Threads,
		TruncatedThreads: gs.Truncated,
		Events:           gs.Events,
		Markers:          gs.Markers,
		StartUs:          int64(gs.Start),
		EndUs:            int64(gs.End),
		SpanUs:           us(gs.Span),
		ThreadTimeUs:     us(gs.ThreadTime),
		States:           map[string]StateTime{},
		Counters:         convertCounters(&gs.Counters),
		Regions:          gs.Regions,
		Diagnostics:      map[string]int{},
	}
	for _, state := range reportedStates {
		r.Summary.States[state.String()] = StateTime{
			TotalUs: us(gs.Totals[state]),
			Percent: round(gs.Percent(state)),
		}
	}
	for kind, n := range diags.Counts() {
		if n != 0 {
			r.Summary.Diagnostics[ptrace.DiagnosticKind(kind).String()] = n
		}
	}

	for _, t := range tr.Threads {
		s := &t.Summary
		th := Thread{
			Thread:         t.ID,
			FirstUs:        int64(t.First),
			LastUs:         int64(t.Last),
			LifetimeUs:     us(s.Lifetime),
			Intervals:      len(t.Intervals),
			States:         map[string]StateStat{},
			Counters:       convertCounters(&s.Counters),
			Regions:        s.Regions,
			Events:         t.Events,
			DroppedEvents:  t.Dropped,
			Markers:        s.Markers,
			DroppedMarkers: s.DroppedMarkers,
			Truncated:      s.Truncated,
		}
		for _, state := range reportedStates {
			stat := &s.Statistics[state]
			th.States[state.String()] = StateStat{
				Count:     stat.Count,
				MinUs:     us(stat.Min),
				MaxUs:     us(stat.Max),
				TotalUs:   us(stat.Total),
				AverageUs: stat.Average / float64(time.Microsecond),
				MedianUs:  stat.Median / float64(time.Microsecond),
				Percent:   percent(state, s),
			}
		}
		if opts.UtilizationBucket > 0 {
			th.Utilization = ptrace.ComputeUtilization(t, tr.Start, tr.End, opts.UtilizationBucket)
		}
		r.Threads = append(r.Threads, th)

		for _, iv := range t.Intervals {
			out := Interval{
				Thread:     iv.Thread,
				StartUs:    int64(iv.Start),
				EndUs:      int64(iv.End),
				DurationUs: us(iv.Duration()),
				State:      iv.State.String(),
			}
			for _, m := range iv.Markers {
				out.Markers = append(out.Markers, Marker{TsUs: int64(m.Ts), Label: m.Label})
			}
			r.Intervals = append(r.Intervals, out)
		}
		// Regions are recorded as they close; renderers want them in the order they were entered.
		regions := slices.Clone(t.Regions)
		slices.SortStableFunc(regions, func(a, b ptrace.Region) int {
			switch {
			case a.Start < b.Start:
				return -1
			case a.Start > b.Start:
				return 1
			default:
				return a.Depth - b.Depth
			}
		})
		for _, reg := range regions {
			r.Regions = append(r.Regions, Region{
				Thread:     reg.Thread,
				Kind:       reg.Kind.String(),
				StartUs:    int64(reg.Start),
				EndUs:      int64(reg.End),
				DurationUs: us(reg.Duration()),
				TeamSize:   reg.TeamSize,
				Depth:      reg.Depth,
			})
		}
	}
	r.Timeline = timeline(opts.Events)
	return r
}

func timeline(events []trace.Event) []TimelineEntry {
	if len(events) == 0 {
		return nil
	}
	ordered, _ := trace.Order(events)
	out := make([]TimelineEntry, 0, len(ordered))
	for i := range ordered {
		ev := &ordered[i]
		if ev.Category == trace.CategoryNone || ev.Category >= trace.CategoryCount {
			continue
		}
		out = append(out, TimelineEntry{
			TsUs:       int64(ev.Ts),
			Thread:     ev.Thread,
			Annotation: ev.Category == trace.Annotation,
			Category:   ev.Category.String(),
			Details:    ev.Details(),
		})
	}
	if len(out) == 0 {
		return nil
	}
	base := out[0].TsUs
	for i := range out {
		out[i].RelUs = out[i].TsUs - base
	}
	return out
}
