// Package trace reads the line-oriented event captures produced by the OMPT instrumentation tool.
package trace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a point on the capture's shared monotonic clock, in microseconds.
type Timestamp int64

func (ts Timestamp) Duration() time.Duration {
	return time.Duration(ts) * time.Microsecond
}

// Milliseconds formats ts the way the instrumentation layer prints it, with three fraction digits.
func (ts Timestamp) Milliseconds() string {
	neg := ts < 0
	if neg {
		ts = -ts
	}
	s := fmt.Sprintf("%d.%03d", ts/1000, ts%1000)
	if neg {
		return "-" + s
	}
	return s
}

type Category uint8

const (
	CategoryNone Category = iota
	ParallelBegin
	ParallelEnd
	WorkBegin
	WorkEnd
	TaskBegin // implicit task start
	TaskEnd
	SyncEnter
	SyncExit
	Annotation
	CategoryCount
)

var categoryNames = [CategoryCount]string{
	CategoryNone:  "NONE",
	ParallelBegin: "PARALLEL_BEGIN",
	ParallelEnd:   "PARALLEL_END",
	WorkBegin:     "WORK_BEGIN",
	WorkEnd:       "WORK_END",
	TaskBegin:     "TASK_BEGIN",
	TaskEnd:       "TASK_END",
	SyncEnter:     "SYNC_ENTER",
	SyncExit:      "SYNC_EXIT",
	Annotation:    "ANNOTATION",
}

func (c Category) String() string {
	if c >= CategoryCount {
		return fmt.Sprintf("Category(%d)", c)
	}
	return categoryNames[c]
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsEnd reports whether c closes a region frame.
func (c Category) IsEnd() bool {
	return c == ParallelEnd || c == TaskEnd
}

type WorkKind uint8

const (
	WorkUnknown WorkKind = iota
	WorkLoop
	WorkSections
	WorkSingle
	WorkSingleOther
	WorkWorkshare
	WorkDistribute
	WorkTaskloop
	WorkKindCount
)

var workKindNames = [WorkKindCount]string{
	WorkUnknown:     "unknown",
	WorkLoop:        "loop",
	WorkSections:    "sections",
	WorkSingle:      "single",
	WorkSingleOther: "single_other",
	WorkWorkshare:   "workshare",
	WorkDistribute:  "distribute",
	WorkTaskloop:    "taskloop",
}

func (k WorkKind) String() string {
	if k >= WorkKindCount {
		return workKindNames[WorkUnknown]
	}
	return workKindNames[k]
}

func (k WorkKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type SyncKind uint8

const (
	SyncUnknown SyncKind = iota
	SyncBarrier
	SyncBarrierImplicit
	SyncBarrierExplicit
	SyncBarrierImplementation
	SyncTaskwait
	SyncTaskgroup
	SyncReduction
	SyncKindCount
)

var syncKindNames = [SyncKindCount]string{
	SyncUnknown:               "unknown",
	SyncBarrier:               "barrier",
	SyncBarrierImplicit:       "implicit_barrier",
	SyncBarrierExplicit:       "explicit_barrier",
	SyncBarrierImplementation: "implementation_barrier",
	SyncTaskwait:              "taskwait",
	SyncTaskgroup:             "taskgroup",
	SyncReduction:             "reduction",
}

func (k SyncKind) String() string {
	if k >= SyncKindCount {
		return syncKindNames[SyncUnknown]
	}
	return syncKindNames[k]
}

func (k SyncKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsBarrier reports whether k is one of the barrier flavors.
func (k SyncKind) IsBarrier() bool {
	switch k {
	case SyncBarrier, SyncBarrierImplicit, SyncBarrierExplicit, SyncBarrierImplementation:
		return true
	default:
		return false
	}
}

func lookupWorkKind(s string) (WorkKind, bool) {
	for k, name := range workKindNames {
		if name == s {
			return WorkKind(k), true
		}
	}
	return WorkUnknown, false
}

func lookupSyncKind(s string) (SyncKind, bool) {
	for k, name := range syncKindNames {
		if name == s {
			return SyncKind(k), true
		}
	}
	return SyncUnknown, false
}

// Event describes one event in the trace.
type Event struct {
	Ts       Timestamp // timestamp in microseconds
	Thread   int       // thread on which the event happened
	Category Category
	// Category-specific payload:
	// for ParallelBegin: the requested team size
	// for TaskBegin, TaskEnd: the team size
	TeamSize int
	// for WorkBegin, WorkEnd: the kind of workshare construct and its number of work items
	WorkKind  WorkKind
	WorkCount uint64
	// for SyncEnter, SyncExit: the kind of synchronization
	SyncKind SyncKind
	// for Annotation: the user-supplied label
	Label string
	// Line is the 1-based line in the capture that produced the event, or 0 for synthesized events.
	Line int
}

const (
	eventTag      = "[OMPT]"
	annotationTag = "[OMPT_annotation]"
)

// String renders the event as the instrumentation layer would have printed it.
func (ev *Event) String() string {
	var b strings.Builder
	Format(&b, ev)
	return b.String()
}

// Details describes the event's payload, such as the team size of a region or the label of an annotation.
func (ev *Event) Details() string {
	switch ev.Category {
	case ParallelBegin:
		return fmt.Sprintf("requested threads: %d", ev.TeamSize)
	case TaskBegin, TaskEnd:
		return fmt.Sprintf("team size: %d", ev.TeamSize)
	case WorkBegin, WorkEnd:
		return fmt.Sprintf("type: %s, count: %d", ev.WorkKind, ev.WorkCount)
	case SyncEnter, SyncExit:
		return ev.SyncKind.String()
	case Annotation:
		return ev.Label
	default:
		return ""
	}
}

// Format appends the canonical capture line for ev, without a trailing newline.
func Format(b *strings.Builder, ev *Event) {
	ms := ev.Ts.Milliseconds()
	thread := strconv.Itoa(ev.Thread)
	if ev.Category == Annotation {
		b.WriteString(annotationTag + " Thread " + thread + " Annotation at " + ms + " ms: " + ev.Label)
		return
	}

	b.WriteString(eventTag + " Thread " + thread + " ")
	switch ev.Category {
	case ParallelBegin:
		fmt.Fprintf(b, "PARALLEL BEGIN at %s ms (requested threads: %d)", ms, ev.TeamSize)
	case ParallelEnd:
		fmt.Fprintf(b, "PARALLEL END at %s ms", ms)
	case WorkBegin:
		fmt.Fprintf(b, "WORK START at %s ms (type: %s, count: %d)", ms, ev.WorkKind, ev.WorkCount)
	case WorkEnd:
		fmt.Fprintf(b, "WORK END at %s ms (type: %s, count: %d)", ms, ev.WorkKind, ev.WorkCount)
	case TaskBegin:
		fmt.Fprintf(b, "TASK START at %s ms (team size: %d)", ms, ev.TeamSize)
	case TaskEnd:
		fmt.Fprintf(b, "TASK FINISH at %s ms (team size: %d)", ms, ev.TeamSize)
	case SyncEnter:
		fmt.Fprintf(b, "ENTER %s at %s ms", ev.SyncKind, ms)
	case SyncExit:
		fmt.Fprintf(b, "EXIT %s at %s ms", ev.SyncKind, ms)
	default:
		fmt.Fprintf(b, "%s at %s ms", ev.Category, ms)
	}
}
