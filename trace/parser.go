package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyTrace is returned when a capture contains no events, or no events survived parsing.
var ErrEmptyTrace = errors.New("trace is empty")

// maxLineLength bounds a single capture line. Annotation labels are user supplied and may be long.
const maxLineLength = 1024 * 1024

// ParseError describes a tagged capture line that could not be interpreted.
type ParseError struct {
	Line   int    // 1-based line number
	Text   string // the offending line
	Reason string
	Err    error // underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v (%q)", e.Line, e.Reason, e.Err, e.Text)
	}
	return fmt.Sprintf("line %d: %s (%q)", e.Line, e.Reason, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the result of Parse.
type Result struct {
	// Events are the parsed events, in capture order. Annotations are included.
	Events []Event
	// Errors are the malformed lines that were skipped.
	Errors []*ParseError
	// Lines is the number of lines read, Ignored the number of untagged lines among them.
	Lines   int
	Ignored int
}

// Parse reads a capture line by line. Lines without an event tag are unrelated program output and are ignored.
// Malformed tagged lines are collected in Result.Errors, unless strict is set, in which case the first one aborts
// parsing. Parse returns ErrEmptyTrace if no non-annotation event was found.
func Parse(r io.Reader, strict bool) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	for sc.Scan() {
		res.Lines++
		ev, ok, err := ParseLine(sc.Text(), res.Lines)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				return res, err
			}
			if strict {
				return res, err
			}
			res.Errors = append(res.Errors, perr)
			continue
		}
		if !ok {
			res.Ignored++
			continue
		}
		res.Events = append(res.Events, ev)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("failed to read trace at line %d: %w", res.Lines+1, err)
	}

	for i := range res.Events {
		if res.Events[i].Category != Annotation {
			return res, nil
		}
	}
	if len(res.Errors) > 0 {
		return res, fmt.Errorf("%w: all %d tagged lines are malformed", ErrEmptyTrace, len(res.Errors))
	}
	return res, ErrEmptyTrace
}

// ParseLine parses a single capture line. It reports ok == false, without an error, for lines that don't carry an
// event tag. Parsing is stateless; lineNo is only used for error reporting and Event.Line.
func ParseLine(line string, lineNo int) (ev Event, ok bool, err error) {
	text := strings.TrimSpace(line)
	fail := func(reason string, err error) (Event, bool, error) {
		return Event{}, false, &ParseError{Line: lineNo, Text: text, Reason: reason, Err: err}
	}

	switch {
	case strings.HasPrefix(text, annotationTag):
		ev, reason, err := parseAnnotation(text[len(annotationTag):])
		if reason != "" {
			return fail(reason, err)
		}
		ev.Line = lineNo
		return ev, true, nil
	case strings.HasPrefix(text, eventTag):
		ev, reason, err := parseEvent(text[len(eventTag):])
		if reason != "" {
			return fail(reason, err)
		}
		ev.Line = lineNo
		return ev, true, nil
	default:
		return Event{}, false, nil
	}
}

// parseThread consumes "Thread <id> " and returns the remainder.
func parseThread(s string) (int, string, string, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "Thread ")
	if !ok {
		return 0, "", "missing thread id", nil
	}
	idStr, rest, _ := strings.Cut(rest, " ")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, "", "invalid thread id", err
	}
	if id < 0 {
		return 0, "", "negative thread id", nil
	}
	return id, rest, "", nil
}

func parseEvent(s string) (ev Event, reason string, err error) {
	ev.Thread, s, reason, err = parseThread(s)
	if reason != "" {
		return ev, reason, err
	}

	head, tail, ok := strings.Cut(s, " at ")
	if !ok {
		return ev, "missing timestamp", nil
	}
	tsStr, details, ok := strings.Cut(tail, " ms")
	if !ok {
		return ev, "missing time unit", nil
	}
	ev.Ts, err = parseMillis(tsStr)
	if err != nil {
		return ev, "malformed timestamp", err
	}

	fields, reason := parseDetails(details)
	if reason != "" {
		return ev, reason, nil
	}

	tokens := strings.Fields(head)
	if len(tokens) != 2 {
		return ev, fmt.Sprintf("unrecognized category %q", head), nil
	}
	switch tokens[0] + " " + tokens[1] {
	case "PARALLEL BEGIN":
		ev.Category = ParallelBegin
		ev.TeamSize, reason, err = intField(fields, "requested threads")
	case "PARALLEL END":
		ev.Category = ParallelEnd
	case "WORK START", "WORK END":
		if tokens[1] == "START" {
			ev.Category = WorkBegin
		} else {
			ev.Category = WorkEnd
		}
		kind, found := fields["type"]
		if !found {
			return ev, "missing work type", nil
		}
		if ev.WorkKind, ok = lookupWorkKind(kind); !ok {
			return ev, fmt.Sprintf("unrecognized work type %q", kind), nil
		}
		countStr, found := fields["count"]
		if !found {
			return ev, "missing work count", nil
		}
		ev.WorkCount, err = strconv.ParseUint(countStr, 10, 64)
		if err != nil {
			return ev, "invalid work count", err
		}
	case "TASK START", "TASK FINISH":
		if tokens[1] == "START" {
			ev.Category = TaskBegin
		} else {
			ev.Category = TaskEnd
		}
		ev.TeamSize, reason, err = intField(fields, "team size")
	default:
		switch tokens[0] {
		case "ENTER":
			ev.Category = SyncEnter
		case "EXIT":
			ev.Category = SyncExit
		default:
			return ev, fmt.Sprintf("unrecognized category %q", head), nil
		}
		if ev.SyncKind, ok = lookupSyncKind(tokens[1]); !ok {
			return ev, fmt.Sprintf("unrecognized sync kind %q", tokens[1]), nil
		}
	}
	return ev, reason, err
}

func parseAnnotation(s string) (ev Event, reason string, err error) {
	ev.Category = Annotation
	ev.Thread, s, reason, err = parseThread(s)
	if reason != "" {
		return ev, reason, err
	}
	rest, ok := strings.CutPrefix(s, "Annotation at ")
	if !ok {
		return ev, "unrecognized annotation", nil
	}
	tsStr, label, ok := strings.Cut(rest, " ms:")
	if !ok {
		return ev, "missing time unit", nil
	}
	ev.Ts, err = parseMillis(tsStr)
	if err != nil {
		return ev, "malformed timestamp", err
	}
	ev.Label = strings.TrimSpace(label)
	if ev.Label == "" {
		return ev, "missing annotation label", nil
	}
	return ev, "", nil
}

// parseDetails parses the optional trailing "(key: value, key: value)" group.
func parseDetails(s string) (map[string]string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ""
	}
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, "malformed details"
	}
	fields := map[string]string{}
	for _, kv := range strings.Split(s[1:len(s)-1], ",") {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			return nil, "malformed details"
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields, ""
}

func intField(fields map[string]string, key string) (int, string, error) {
	s, ok := fields[key]
	if !ok {
		return 0, "missing " + key, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, "invalid " + key, err
	}
	if n < 0 {
		return 0, "negative " + key, nil
	}
	return n, "", nil
}

var errTimestampSyntax = errors.New("expected <milliseconds>[.<up to 3 digits>]")

// parseMillis parses a millisecond timestamp with up to microsecond precision. It doesn't go through floating point,
// so that sums of durations stay exact.
func parseMillis(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	ip, fp, _ := strings.Cut(s, ".")
	if ip == "" || len(fp) > 3 || !isDigits(ip) || !isDigits(fp) {
		return 0, errTimestampSyntax
	}
	ms, err := strconv.ParseInt(ip, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms > math.MaxInt64/1000-1 {
		return 0, strconv.ErrRange
	}
	var us int64
	if fp != "" {
		us, _ = strconv.ParseInt(fp, 10, 64)
		for i := len(fp); i < 3; i++ {
			us *= 10
		}
	}
	return Timestamp(ms*1000 + us), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
