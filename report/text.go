package report

import (
	"bufio"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"honnef.co/go/teamtrace/trace"
)

func ms(usec int64) string {
	return trace.Timestamp(usec).Milliseconds()
}

// WriteText writes a human-readable summary: global totals, one block per thread, the parallel regions, and a
// chronological listing. The listing covers the report's timeline if it has one, and otherwise the attached
// annotations relative to the start of the trace.
func WriteText(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)
	p := message.NewPrinter(language.English)
	s := &r.Summary

	p.Fprintf(bw, "Trace: %s threads, %s events, %s annotations, span %s ms\n",
		humanize.Comma(int64(s.Threads)), humanize.Comma(int64(s.Events)), humanize.Comma(int64(s.Markers)), ms(s.SpanUs))
	p.Fprintf(bw, "Thread time: %s ms\n", ms(s.ThreadTimeUs))
	for _, state := range reportedStates {
		st := s.States[state.String()]
		p.Fprintf(bw, "  %-18s %14s ms %6.2f%%\n", state, ms(st.TotalUs), st.Percent)
	}
	p.Fprintf(bw, "Parallel regions: %d, implicit tasks: %d, work constructs: %d (%d items), sync events: %d\n",
		s.Counters.ParallelRegions, s.Counters.ImplicitTasks, s.Counters.WorkConstructs, s.Counters.WorkItems,
		s.Counters.SyncEvents)
	if s.TruncatedThreads > 0 {
		p.Fprintf(bw, "Truncated threads: %d\n", s.TruncatedThreads)
	}
	if len(r.Diagnostics) > 0 {
		p.Fprintf(bw, "Diagnostics: %d\n", len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			p.Fprintf(bw, "  %s: %s\n", d.Kind, d.Message)
		}
	}

	for _, th := range r.Threads {
		p.Fprintf(bw, "\nThread %d: %s .. %s ms, lifetime %s ms, %d intervals\n",
			th.Thread, ms(th.FirstUs), ms(th.LastUs), ms(th.LifetimeUs), th.Intervals)
		for _, state := range reportedStates {
			st := th.States[state.String()]
			p.Fprintf(bw, "  %-18s %14s ms %6.2f%%  (%d intervals, median %.3f ms)\n",
				state, ms(st.TotalUs), st.Percent, st.Count, st.MedianUs/1000)
		}
		c := &th.Counters
		p.Fprintf(bw, "  work: %d constructs, %d items, %s ms\n", c.WorkConstructs, c.WorkItems, ms(c.WorkTimeUs))
		p.Fprintf(bw, "  sync: %d events", c.SyncEvents)
		if c.UnenclosedSyncs > 0 {
			p.Fprintf(bw, ", %d outside of any region", c.UnenclosedSyncs)
		}
		bw.WriteString("\n")
		if th.Truncated {
			p.Fprintf(bw, "  truncated: %d later events ignored\n", th.DroppedEvents)
		}
		if len(th.Utilization) > 0 {
			p.Fprintf(bw, "  utilization: %v\n", th.Utilization)
		}
	}

	if len(r.Regions) > 0 {
		bw.WriteString("\nRegions:\n")
		for _, reg := range r.Regions {
			p.Fprintf(bw, "  thread %-4d %-13s %12s .. %12s ms  %10s ms  team %d, depth %d\n",
				reg.Thread, reg.Kind, ms(reg.StartUs), ms(reg.EndUs), ms(reg.DurationUs), reg.TeamSize, reg.Depth)
		}
	}

	if len(r.Timeline) > 0 {
		var annotations int
		for _, e := range r.Timeline {
			if e.Annotation {
				annotations++
			}
		}
		p.Fprintf(bw, "\nTimeline (%d events, %d annotations):\n", len(r.Timeline)-annotations, annotations)
		for _, e := range r.Timeline {
			line := p.Sprintf("  +%s ms  thread %-4d %-14s %s", ms(e.RelUs), e.Thread, e.Category, e.Details)
			bw.WriteString(strings.TrimRight(line, " "))
			bw.WriteString("\n")
		}
		return bw.Flush()
	}

	type annotation struct {
		thread int
		Marker
	}
	var annotations []annotation
	for _, iv := range r.Intervals {
		for _, m := range iv.Markers {
			annotations = append(annotations, annotation{iv.Thread, m})
		}
	}
	if len(annotations) > 0 {
		slices.SortStableFunc(annotations, func(a, b annotation) int {
			switch {
			case a.TsUs < b.TsUs:
				return -1
			case a.TsUs > b.TsUs:
				return 1
			default:
				return a.thread - b.thread
			}
		})
		bw.WriteString("\nAnnotations:\n")
		for _, a := range annotations {
			p.Fprintf(bw, "  +%s ms  thread %-4d %s\n", ms(a.TsUs-s.StartUs), a.thread, a.Label)
		}
	}

	return bw.Flush()
}
