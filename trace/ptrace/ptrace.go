// Package ptrace reconstructs per-thread activity timelines from an ordered stream of trace events.
package ptrace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"honnef.co/go/teamtrace/container"
	myslices "honnef.co/go/teamtrace/slices"
	"honnef.co/go/teamtrace/trace"
)

type State uint8

const (
	StateNone State = iota
	StateActive
	StateIdleInParallel
	StateIdleSequential
	StateLast
)

var stateNames = [StateLast]string{
	StateNone:           "NONE",
	StateActive:         "ACTIVE",
	StateIdleInParallel: "IDLE_IN_PARALLEL",
	StateIdleSequential: "IDLE_SEQUENTIAL",
}

func (s State) String() string {
	if s >= StateLast {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Interval is a half-open span [Start, End) of a thread's lifetime spent in a single state.
type Interval struct {
	Thread     int
	Start, End trace.Timestamp
	State      State
	// Markers are the annotations that fall into the interval, in timestamp order.
	Markers []Marker
}

func (iv Interval) Duration() time.Duration {
	return (iv.End - iv.Start).Duration()
}

// Intervals is a thread's contiguous sequence of intervals.
type Intervals []Interval

func (ivs Intervals) Start() trace.Timestamp {
	if len(ivs) == 0 {
		return 0
	}
	return ivs[0].Start
}

func (ivs Intervals) End() trace.Timestamp {
	if len(ivs) == 0 {
		return 0
	}
	return ivs[len(ivs)-1].End
}

func (ivs Intervals) Duration() time.Duration {
	return (ivs.End() - ivs.Start()).Duration()
}

// Marker is an annotation emitted by the traced program. Markers don't affect classification.
type Marker struct {
	Thread int
	Ts     trace.Timestamp
	Label  string
	// Line is the capture line the annotation came from.
	Line int
}

// Region is a closed region frame.
type Region struct {
	Kind       RegionKind
	Thread     int
	Start, End trace.Timestamp
	TeamSize   int
	// Depth is the nesting depth of the region, 1 for outermost regions.
	Depth int
}

func (r Region) Duration() time.Duration {
	return (r.End - r.Start).Duration()
}

// Counters are the event counts that the builder maintains for a thread.
type Counters struct {
	ParallelRegions int
	ImplicitTasks   int
	WorkConstructs  int
	// WorkItems is the sum of the item counts of all work constructs.
	WorkItems  uint64
	SyncEvents int
	// UnenclosedSyncs counts synchronization points reached outside of any region.
	UnenclosedSyncs int
	// ActiveEntries counts transitions into StateActive, by the category of the causing event.
	ActiveEntries [trace.CategoryCount]int
	// WorkTime is the time spent inside outermost work constructs.
	WorkTime time.Duration
	// SyncIdle is the time spent between matching sync enters and exits, by sync kind.
	SyncIdle [trace.SyncKindCount]time.Duration
}

type Thread struct {
	ID int
	// Sequential ID of the thread in the trace
	SeqID int
	// First and Last delimit the thread's lifetime. For truncated threads, Last is the point of truncation.
	First, Last trace.Timestamp
	Intervals   Intervals
	// Markers are the annotations attached to intervals.
	Markers []Marker
	// DroppedMarkers counts annotations outside the thread's lifetime.
	DroppedMarkers int
	Regions        []Region
	// Events is the number of processed events, Dropped the number of events ignored after truncation.
	Events  int
	Dropped int
	// Truncated is set if the thread's region nesting was found to be unbalanced. Its timeline is only trustworthy
	// up to Last.
	Truncated bool
	Counters  Counters
	Summary   ThreadSummary
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d", t.ID)
}

func (t *Thread) Lifetime() time.Duration {
	return (t.Last - t.First).Duration()
}

type Trace struct {
	// Threads is sorted by thread ID.
	Threads []*Thread
	// Diagnostics holds the non-fatal problems found while building, ordered by thread.
	Diagnostics Diagnostics
	// Events is the number of non-annotation events, Markers the number of annotations.
	Events  int
	Markers int
	// Start and End delimit the union of all thread lifetimes.
	Start, End trace.Timestamp
	Summary    GlobalSummary
}

func (tr *Trace) Thread(id int) (*Thread, bool) {
	for _, t := range tr.Threads {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

type Options struct {
	// Workers bounds the number of threads reconstructed concurrently. Zero means no bound.
	Workers int
	// Strict turns any UnbalancedRegionError into a failure of the whole build.
	Strict bool
	Log    logrus.FieldLogger
}

// threadEvents is one thread's share of the ordered event stream.
type threadEvents struct {
	events  []trace.Event
	markers []Marker
}

// Build reconstructs the timelines of all threads that appear in events. Events may be in any order; they are
// ordered by (timestamp, thread) first.
//
// Per-thread problems don't fail the build. They are collected in Trace.Diagnostics, and affected threads are marked
// as truncated. Events with an unknown category are skipped and reported as InvalidEventError. Build returns
// trace.ErrEmptyTrace if events holds nothing but annotations, and, with Options.Strict, an error wrapping the first
// InvalidEventError or UnbalancedRegionError.
func Build(ctx context.Context, events []trace.Event, opts Options) (*Trace, error) {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}

	ordered, disordered := trace.Order(events)

	tr := &Trace{}
	byThread := map[int]*threadEvents{}
	var ids []int
	withEvents := container.Set[int]{}
	var invalid Diagnostics
	for _, ev := range ordered {
		if ev.Category == trace.CategoryNone || ev.Category >= trace.CategoryCount {
			err := &InvalidEventError{Thread: ev.Thread, Ts: ev.Ts, Line: ev.Line, Category: ev.Category}
			log.WithField("thread", ev.Thread).Warn(err)
			invalid = append(invalid, err)
			continue
		}
		te, ok := byThread[ev.Thread]
		if !ok {
			te = &threadEvents{}
			byThread[ev.Thread] = te
			ids = append(ids, ev.Thread)
		}
		if ev.Category == trace.Annotation {
			te.markers = append(te.markers, Marker{Thread: ev.Thread, Ts: ev.Ts, Label: ev.Label, Line: ev.Line})
			tr.Markers++
			continue
		}
		te.events = append(te.events, ev)
		withEvents.Add(ev.Thread)
		tr.Events++
	}
	if opts.Strict && len(invalid) > 0 {
		return nil, fmt.Errorf("invalid events in strict mode: %w", invalid[0])
	}
	if len(withEvents) == 0 {
		return nil, trace.ErrEmptyTrace
	}
	// ids is in order of first appearance; the per-thread results must come out sorted by ID.
	slices.Sort(ids)

	threads := make([]*Thread, len(ids))
	diags := make([]Diagnostics, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, id := range ids {
		te := byThread[id]
		if !withEvents.Has(id) {
			diags[i] = orphanMarkers(te.markers)
			continue
		}
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			threads[i], diags[i] = buildThread(id, te, log.WithField("thread", id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	disorderedSet := container.Set[int]{}
	for _, id := range disordered {
		disorderedSet.Add(id)
	}
	tr.Diagnostics = append(tr.Diagnostics, invalid...)
	var strictErr error
	for i, id := range ids {
		if disorderedSet.Has(id) {
			log.WithField("thread", id).Warn("events were out of order in the capture")
			tr.Diagnostics = append(tr.Diagnostics, &OutOfOrderWarning{Thread: id})
		}
		for _, err := range diags[i] {
			var uerr *UnbalancedRegionError
			if strictErr == nil && errors.As(err, &uerr) {
				strictErr = err
			}
			tr.Diagnostics = append(tr.Diagnostics, err)
		}
		if t := threads[i]; t != nil {
			t.SeqID = len(tr.Threads)
			tr.Threads = append(tr.Threads, t)
		}
	}
	if opts.Strict && strictErr != nil {
		return nil, fmt.Errorf("unbalanced regions in strict mode: %w", strictErr)
	}

	tr.Start, tr.End = tr.Threads[0].First, tr.Threads[0].Last
	for _, t := range tr.Threads[1:] {
		tr.Start = min(tr.Start, t.First)
		tr.End = max(tr.End, t.Last)
	}
	tr.Summary = Summarize(tr)
	return tr, nil
}

func orphanMarkers(markers []Marker) Diagnostics {
	var out Diagnostics
	for _, m := range markers {
		out = append(out, &OutOfRangeAnnotationWarning{Marker: m, Orphan: true})
	}
	return out
}

// buildThread runs the state machine over one thread's events, which must be in timestamp order, and then attaches
// the thread's markers and computes its summary. The returned thread is immutable.
func buildThread(id int, te *threadEvents, log logrus.FieldLogger) (*Thread, Diagnostics) {
	t := &Thread{
		ID:    id,
		First: te.events[0].Ts,
	}
	b := builder{
		t:      t,
		stacks: NewStacks(),
		log:    log,
		state:  StateIdleSequential,
		start:  t.First,
	}
	for i := range te.events {
		b.process(&te.events[i])
	}
	b.finalize(te.events[len(te.events)-1].Ts)

	diags := append(b.errs, Overlay(t, te.markers)...)
	t.Summary = SummarizeThread(t)
	return t, diags
}

type syncEntry struct {
	kind trace.SyncKind
	ts   trace.Timestamp
	// resume is the state the thread was in before it started waiting.
	resume State
}

// builder is the per-thread timeline state machine. It owns the thread's region stack and its open interval.
type builder struct {
	t      *Thread
	stacks *Stacks
	log    logrus.FieldLogger

	// The open interval
	state State
	start trace.Timestamp

	work  []trace.Timestamp
	syncs []syncEntry
	errs  Diagnostics
	// done is set once the thread has been truncated.
	done bool
}

// transition moves the thread into the next state at ts, closing the open interval. Unless split is set, staying in
// the same state keeps the interval open. Zero-length intervals are never emitted.
func (b *builder) transition(ev *trace.Event, next State, split bool) {
	if next == b.state && !split {
		return
	}
	if next == StateActive && b.state != StateActive {
		b.t.Counters.ActiveEntries[ev.Category]++
	}
	b.close(ev.Ts)
	b.state = next
	b.start = ev.Ts
}

func (b *builder) close(ts trace.Timestamp) {
	if ts > b.start {
		b.t.Intervals = append(b.t.Intervals, Interval{
			Thread: b.t.ID,
			Start:  b.start,
			End:    ts,
			State:  b.state,
		})
	}
}

// resumeState is the state a thread returns to when it isn't waiting.
func (b *builder) resumeState() State {
	if b.stacks.Depth(b.t.ID) > 0 {
		return StateActive
	}
	return StateIdleSequential
}

func (b *builder) process(ev *trace.Event) {
	t := b.t
	if b.done {
		t.Dropped++
		return
	}
	t.Events++

	switch ev.Category {
	case trace.ParallelBegin:
		t.Counters.ParallelRegions++
		b.stacks.Push(t.ID, Frame{Kind: RegionParallel, Start: ev.Ts, TeamSize: ev.TeamSize})
		b.transition(ev, StateActive, false)

	case trace.TaskBegin:
		t.Counters.ImplicitTasks++
		b.stacks.Push(t.ID, Frame{Kind: RegionImplicitTask, Start: ev.Ts, TeamSize: ev.TeamSize})
		b.transition(ev, StateActive, false)

	case trace.WorkBegin:
		t.Counters.WorkConstructs++
		t.Counters.WorkItems += ev.WorkCount
		b.work = append(b.work, ev.Ts)
		b.transition(ev, StateActive, false)

	case trace.WorkEnd:
		var start trace.Timestamp
		var ok bool
		start, b.work, ok = myslices.Pop(b.work)
		if !ok {
			b.log.WithField("ts", ev.Ts.Milliseconds()).Debug("work end without work begin")
		} else if len(b.work) == 0 {
			t.Counters.WorkTime += (ev.Ts - start).Duration()
		}
		b.transition(ev, StateActive, false)

	case trace.SyncEnter:
		t.Counters.SyncEvents++
		b.syncs = append(b.syncs, syncEntry{kind: ev.SyncKind, ts: ev.Ts, resume: b.state})
		if b.stacks.Depth(t.ID) > 0 {
			b.transition(ev, StateIdleInParallel, true)
		} else {
			t.Counters.UnenclosedSyncs++
			b.log.WithFields(logrus.Fields{
				"ts":   ev.Ts.Milliseconds(),
				"kind": ev.SyncKind,
			}).Debug("synchronization outside of any region")
			b.transition(ev, StateIdleSequential, true)
		}

	case trace.SyncExit:
		var enter syncEntry
		var ok bool
		enter, b.syncs, ok = myslices.Pop(b.syncs)
		if ok {
			t.Counters.SyncIdle[enter.kind] += (ev.Ts - enter.ts).Duration()
			b.transition(ev, enter.resume, true)
		} else {
			b.log.WithField("ts", ev.Ts.Milliseconds()).Debug("sync exit without sync enter")
			b.transition(ev, b.resumeState(), true)
		}

	case trace.TaskEnd:
		if !b.end(ev, RegionImplicitTask) {
			return
		}
		b.transition(ev, b.resumeState(), false)

	case trace.ParallelEnd:
		if !b.end(ev, RegionParallel) {
			return
		}
		b.transition(ev, b.resumeState(), false)
	}
}

// end pops the frame closed by ev. If the frame doesn't match, the thread is truncated at ev and end returns false.
func (b *builder) end(ev *trace.Event, kind RegionKind) bool {
	depth := b.stacks.Depth(b.t.ID)
	f, err := b.stacks.Pop(b.t.ID, kind)
	if err != nil {
		var uerr *UnbalancedRegionError
		if errors.As(err, &uerr) {
			uerr.Ts = ev.Ts
			uerr.Line = ev.Line
			uerr.Category = ev.Category
		}
		b.log.WithFields(logrus.Fields{
			"ts":   ev.Ts.Milliseconds(),
			"line": ev.Line,
		}).Warn(err)
		b.errs = append(b.errs, err)
		b.truncate(ev.Ts)
		return false
	}
	b.t.Regions = append(b.t.Regions, Region{
		Kind:     f.Kind,
		Thread:   b.t.ID,
		Start:    f.Start,
		End:      ev.Ts,
		TeamSize: f.TeamSize,
		Depth:    depth,
	})
	return true
}

func (b *builder) truncate(ts trace.Timestamp) {
	b.close(ts)
	b.t.Last = ts
	b.t.Truncated = true
	b.done = true
}

// finalize closes the open interval at the thread's last event and checks that no region frames are left open.
func (b *builder) finalize(last trace.Timestamp) {
	if b.done {
		return
	}
	b.close(last)
	b.t.Last = last
	b.done = true

	if depth := b.stacks.Depth(b.t.ID); depth > 0 {
		err := &UnbalancedRegionError{
			Thread: b.t.ID,
			Ts:     last,
			Top:    b.stacks.Top(b.t.ID),
			Depth:  depth,
		}
		b.log.Warn(err)
		b.errs = append(b.errs, err)
		b.t.Truncated = true
	}
}
