//go:build linux || darwin || freebsd || netbsd || openbsd

package annotate

import (
	"time"

	"golang.org/x/sys/unix"

	"honnef.co/go/teamtrace/trace"
)

// MonotonicClock reads CLOCK_MONOTONIC, the clock the instrumentation layer stamps its events with, so that markers
// line up with the events of the same capture.
func MonotonicClock() trace.Timestamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on these systems.
		panic(err)
	}
	return trace.Timestamp(time.Duration(ts.Nano()) / time.Microsecond)
}
