package ptrace

import (
	"fmt"

	"honnef.co/go/teamtrace/container"
	"honnef.co/go/teamtrace/slices"
	"honnef.co/go/teamtrace/trace"
)

type RegionKind uint8

const (
	RegionNone RegionKind = iota
	RegionParallel
	RegionImplicitTask
)

func (k RegionKind) String() string {
	switch k {
	case RegionParallel:
		return "parallel"
	case RegionImplicitTask:
		return "implicit_task"
	default:
		return "none"
	}
}

func (k RegionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Frame is one entry in a thread's region nesting stack.
type Frame struct {
	Kind     RegionKind
	Start    trace.Timestamp
	TeamSize int
}

func (f Frame) String() string {
	return fmt.Sprintf("%s@%s", f.Kind, f.Start.Milliseconds())
}

// Stacks holds the region stacks of threads, keyed by thread ID. Stacks of different threads never interact.
//
// Stacks isn't safe for concurrent use; concurrent builders each own their own Stacks.
type Stacks struct {
	byThread map[int][]Frame
}

func NewStacks() *Stacks {
	return &Stacks{byThread: map[int][]Frame{}}
}

func (s *Stacks) Push(thread int, f Frame) {
	s.byThread[thread] = append(s.byThread[thread], f)
}

// Pop removes the innermost frame of the thread's stack. It returns an *UnbalancedRegionError, and leaves the stack
// unchanged, if the stack is empty or if the innermost frame isn't of the expected kind.
func (s *Stacks) Pop(thread int, kind RegionKind) (Frame, error) {
	stack := s.byThread[thread]
	if top, ok := s.Top(thread).Get(); !ok || top.Kind != kind {
		return Frame{}, &UnbalancedRegionError{
			Thread: thread,
			Want:   kind,
			Top:    s.Top(thread),
			Depth:  len(stack),
		}
	}
	f, stack, _ := slices.Pop(stack)
	if len(stack) == 0 {
		delete(s.byThread, thread)
	} else {
		s.byThread[thread] = stack
	}
	return f, nil
}

func (s *Stacks) Depth(thread int) int {
	return len(s.byThread[thread])
}

func (s *Stacks) Top(thread int) container.Option[Frame] {
	if f, ok := slices.Last(s.byThread[thread]); ok {
		return container.Some(f)
	}
	return container.None[Frame]()
}
