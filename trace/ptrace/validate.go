package ptrace

import (
	"fmt"
	"time"
)

// Validate checks the structural invariants of a finalized thread: its intervals are non-empty, contiguous, cover
// exactly [First, Last], and their durations add up to the thread's lifetime.
func (t *Thread) Validate() error {
	if len(t.Intervals) == 0 {
		if t.First != t.Last {
			return fmt.Errorf("%s: no intervals for lifetime [%s, %s]", t, t.First.Milliseconds(), t.Last.Milliseconds())
		}
		return nil
	}
	if t.Intervals.Start() != t.First || t.Intervals.End() != t.Last {
		return fmt.Errorf("%s: intervals cover [%s, %s], lifetime is [%s, %s]", t,
			t.Intervals.Start().Milliseconds(), t.Intervals.End().Milliseconds(),
			t.First.Milliseconds(), t.Last.Milliseconds())
	}

	var sum time.Duration
	for i, iv := range t.Intervals {
		if iv.Thread != t.ID {
			return fmt.Errorf("%s: interval %d belongs to thread %d", t, i, iv.Thread)
		}
		if iv.End <= iv.Start {
			return fmt.Errorf("%s: interval %d [%s, %s) is empty", t, i, iv.Start.Milliseconds(), iv.End.Milliseconds())
		}
		if iv.State == StateNone || iv.State >= StateLast {
			return fmt.Errorf("%s: interval %d has invalid state %s", t, i, iv.State)
		}
		if i > 0 && t.Intervals[i-1].End != iv.Start {
			return fmt.Errorf("%s: gap or overlap between intervals %d and %d at %s ms", t, i-1, i, iv.Start.Milliseconds())
		}
		for _, m := range iv.Markers {
			if t.Intervals.Find(m.Ts) != i {
				return fmt.Errorf("%s: marker %q at %s ms attached to the wrong interval", t, m.Label, m.Ts.Milliseconds())
			}
		}
		sum += iv.Duration()
	}
	if sum != t.Lifetime() {
		return fmt.Errorf("%s: intervals add up to %s, lifetime is %s", t, sum, t.Lifetime())
	}
	return nil
}
