package ptrace

import (
	"errors"
	"fmt"

	"honnef.co/go/teamtrace/container"
	"honnef.co/go/teamtrace/trace"
)

// UnbalancedRegionError is reported when a region end has no matching open frame, or when a thread's trace ends
// with frames still open. It points at either a broken trace or a bug in the traced program, and is never corrected
// silently. The affected thread's timeline is kept up to the point of the error and marked as truncated.
type UnbalancedRegionError struct {
	Thread int
	// Ts and Line locate the offending event. For frames still open at the end of the trace, Ts is the thread's last
	// timestamp and Line is 0.
	Ts   trace.Timestamp
	Line int
	// Category is the end event that failed to match, or CategoryNone if the trace ended with open frames.
	Category trace.Category
	// Want is the kind of frame the end event tried to close.
	Want RegionKind
	// Top is the innermost open frame, if any, and Depth the number of open frames.
	Top   container.Option[Frame]
	Depth int
}

func (e *UnbalancedRegionError) Error() string {
	if e.Category == trace.CategoryNone {
		if top, ok := e.Top.Get(); ok {
			return fmt.Sprintf("thread %d: trace ended at %s ms with %d open region frame(s), innermost is %s entered at %s ms",
				e.Thread, e.Ts.Milliseconds(), e.Depth, top.Kind, top.Start.Milliseconds())
		}
		return fmt.Sprintf("thread %d: unbalanced %s region", e.Thread, e.Want)
	}
	if top, ok := e.Top.Get(); ok {
		return fmt.Sprintf("thread %d: %s at %s ms (line %d) closes a %s frame, but the innermost open frame is %s",
			e.Thread, e.Category, e.Ts.Milliseconds(), e.Line, e.Want, top)
	}
	return fmt.Sprintf("thread %d: %s at %s ms (line %d) without an open %s frame",
		e.Thread, e.Category, e.Ts.Milliseconds(), e.Line, e.Want)
}

// OutOfRangeAnnotationWarning is reported for annotation markers outside their thread's lifetime. Such markers are
// dropped from the overlay.
type OutOfRangeAnnotationWarning struct {
	Marker Marker
	// First and Last are the thread's lifetime, unless Orphan is set.
	First, Last trace.Timestamp
	// Orphan is set if the thread has no events besides annotations.
	Orphan bool
}

func (w *OutOfRangeAnnotationWarning) Error() string {
	if w.Orphan {
		return fmt.Sprintf("thread %d: annotation %q at %s ms on a thread without any events",
			w.Marker.Thread, w.Marker.Label, w.Marker.Ts.Milliseconds())
	}
	if w.First == w.Last && w.Marker.Ts == w.First {
		return fmt.Sprintf("thread %d: annotation %q at %s ms falls on the thread's zero-length lifetime, which has no interval to attach it to",
			w.Marker.Thread, w.Marker.Label, w.Marker.Ts.Milliseconds())
	}
	return fmt.Sprintf("thread %d: annotation %q at %s ms is outside the thread's lifetime [%s, %s] ms",
		w.Marker.Thread, w.Marker.Label, w.Marker.Ts.Milliseconds(), w.First.Milliseconds(), w.Last.Milliseconds())
}

// InvalidEventError is reported for events whose category the timeline builder doesn't know. Such events are
// skipped.
type InvalidEventError struct {
	Thread   int
	Ts       trace.Timestamp
	Line     int
	Category trace.Category
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("thread %d: invalid event category %s at %s ms (line %d)",
		e.Thread, e.Category, e.Ts.Milliseconds(), e.Line)
}

// OutOfOrderWarning is reported for threads whose events were not in timestamp order in the capture and had to be
// reordered.
type OutOfOrderWarning struct {
	Thread int
}

func (w *OutOfOrderWarning) Error() string {
	return fmt.Sprintf("thread %d: events were out of order in the capture and have been reordered", w.Thread)
}

type DiagnosticKind uint8

const (
	KindOther DiagnosticKind = iota
	KindParseError
	KindUnbalancedRegion
	KindOutOfRangeAnnotation
	KindOutOfOrder
	KindInvalidEvent
	KindLast
)

var diagnosticKindNames = [KindLast]string{
	KindOther:                "other",
	KindParseError:           "ParseError",
	KindUnbalancedRegion:     "UnbalancedRegionError",
	KindOutOfRangeAnnotation: "OutOfRangeAnnotationWarning",
	KindOutOfOrder:           "OutOfOrderWarning",
	KindInvalidEvent:         "InvalidEventError",
}

func (k DiagnosticKind) String() string {
	if k >= KindLast {
		return diagnosticKindNames[KindOther]
	}
	return diagnosticKindNames[k]
}

func (k DiagnosticKind) IsWarning() bool {
	return k == KindOutOfRangeAnnotation || k == KindOutOfOrder
}

func KindOf(err error) DiagnosticKind {
	var (
		perr *trace.ParseError
		uerr *UnbalancedRegionError
		aerr *OutOfRangeAnnotationWarning
		oerr *OutOfOrderWarning
		ierr *InvalidEventError
	)
	switch {
	case errors.As(err, &perr):
		return KindParseError
	case errors.As(err, &uerr):
		return KindUnbalancedRegion
	case errors.As(err, &aerr):
		return KindOutOfRangeAnnotation
	case errors.As(err, &oerr):
		return KindOutOfOrder
	case errors.As(err, &ierr):
		return KindInvalidEvent
	default:
		return KindOther
	}
}

// Diagnostics collects the non-fatal errors and warnings of a run, in a deterministic order.
type Diagnostics []error

func (d Diagnostics) Counts() [KindLast]int {
	var out [KindLast]int
	for _, err := range d {
		out[KindOf(err)]++
	}
	return out
}

// Errors returns the diagnostics that are errors rather than warnings.
func (d Diagnostics) Errors() Diagnostics {
	var out Diagnostics
	for _, err := range d {
		if !KindOf(err).IsWarning() {
			out = append(out, err)
		}
	}
	return out
}
