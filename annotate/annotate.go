// Package annotate lets instrumented programs place labelled markers into a trace capture.
//
// Markers are written as "[OMPT_annotation]" lines on the same output as the instrumentation layer's events, so that
// they end up in the same capture. Whether markers are written is decided once, when the Config is created, and not
// on every call.
package annotate

import (
	"io"
	"os"
	"strings"

	"honnef.co/go/teamtrace/mysync"
	"honnef.co/go/teamtrace/trace"
)

// EnvToolLibraries is the environment variable through which the OpenMP runtime loads the instrumentation layer. Its
// presence means that a capture is being recorded.
const EnvToolLibraries = "OMP_TOOL_LIBRARIES"

const (
	ROIStart = "ROI_START"
	ROIEnd   = "ROI_END"
)

type Config struct {
	// Enabled controls whether markers are written at all. A disabled Annotator does nothing.
	Enabled bool
	// Out is where markers are written. Defaults to os.Stdout.
	Out io.Writer
	// Clock returns the current time on the capture's clock. Defaults to MonotonicClock.
	Clock func() trace.Timestamp
	// Thread returns the ID of the calling thread. Defaults to reporting thread 0.
	Thread func() int
}

// FromEnv returns a Config that is enabled if and only if the instrumentation layer is configured in the process's
// environment.
func FromEnv() Config {
	_, ok := os.LookupEnv(EnvToolLibraries)
	return Config{Enabled: ok}
}

// Annotator writes markers. It is safe for concurrent use; concurrent markers never interleave within a line.
type Annotator struct {
	enabled bool
	clock   func() trace.Timestamp
	thread  func() int
	sink    *mysync.Mutex[*sink]
}

type sink struct {
	out io.Writer
	// err is the first write error. Once set, nothing more is written.
	err error
}

func New(cfg Config) *Annotator {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	a := &Annotator{
		enabled: cfg.Enabled,
		clock:   cfg.Clock,
		thread:  cfg.Thread,
		sink:    mysync.NewMutex(&sink{out: out}),
	}
	if a.clock == nil {
		a.clock = MonotonicClock
	}
	if a.thread == nil {
		a.thread = func() int { return 0 }
	}
	return a
}

func (a *Annotator) Enabled() bool {
	return a != nil && a.enabled
}

// Annotate writes a single marker with the given label, stamped with the current time. Runs of whitespace in the
// label, including line breaks, are collapsed into single spaces. Blank labels are not written.
func (a *Annotator) Annotate(label string) {
	if !a.Enabled() {
		return
	}
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return
	}

	ev := trace.Event{
		Ts:       a.clock(),
		Thread:   a.thread(),
		Category: trace.Annotation,
		Label:    label,
	}
	var sb strings.Builder
	trace.Format(&sb, &ev)
	sb.WriteByte('\n')

	a.sink.Do(func(s *sink) error {
		if s.err == nil {
			_, s.err = io.WriteString(s.out, sb.String())
		}
		return s.err
	})
}

func (a *Annotator) MarkROIStart() { a.Annotate(ROIStart) }
func (a *Annotator) MarkROIEnd()   { a.Annotate(ROIEnd) }

// Err returns the first error encountered while writing markers. After an error, no more markers are written.
func (a *Annotator) Err() error {
	if a == nil {
		return nil
	}
	s, u := a.sink.RLock()
	defer u.RUnlock()
	return s.err
}
