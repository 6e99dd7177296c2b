//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package annotate

import (
	"time"

	"honnef.co/go/teamtrace/trace"
)

var processStart = time.Now()

// MonotonicClock reports the time since the process started. This system has no CLOCK_MONOTONIC to share with the
// instrumentation layer, so markers only line up with events if Config.Clock is set.
func MonotonicClock() trace.Timestamp {
	return trace.Timestamp(time.Since(processStart) / time.Microsecond)
}
