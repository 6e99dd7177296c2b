package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON       Format = "json"
	FormatJSONLines  Format = "jsonl"
	FormatYAML       Format = "yaml"
	FormatCSV        Format = "csv"
	FormatStatistics Format = "stats-csv"
	FormatText       Format = "text"
)

var Formats = []Format{FormatJSON, FormatJSONLines, FormatYAML, FormatCSV, FormatStatistics, FormatText}

func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return "", fmt.Errorf("unknown format %q, expected one of %s", s, strings.Join(names, ", "))
}

// Write encodes r in the given format.
func Write(w io.Writer, format Format, r *Report) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatJSONLines:
		return WriteJSONLines(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatStatistics:
		return WriteStatisticsCSV(w, r)
	case FormatText:
		return WriteText(w, r)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteJSONLines writes one JSON object per line, each tagged with its record type: the summary, then per thread its
// summary, intervals and regions, then the diagnostics and finally the timeline entries.
func WriteJSONLines(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	emit := func(v any) error { return enc.Encode(v) }

	if err := emit(struct {
		Type string `json:"type"`
		Summary
	}{"summary", r.Summary}); err != nil {
		return err
	}

	ivs, regions := r.Intervals, r.Regions
	for _, th := range r.Threads {
		if err := emit(struct {
			Type string `json:"type"`
			Thread
		}{"thread", th}); err != nil {
			return err
		}
		for len(ivs) > 0 && ivs[0].Thread == th.Thread {
			if err := emit(struct {
				Type string `json:"type"`
				Interval
			}{"interval", ivs[0]}); err != nil {
				return err
			}
			ivs = ivs[1:]
		}
		for len(regions) > 0 && regions[0].Thread == th.Thread {
			if err := emit(struct {
				Type string `json:"type"`
				Region
			}{"region", regions[0]}); err != nil {
				return err
			}
			regions = regions[1:]
		}
	}
	for _, d := range r.Diagnostics {
		if err := emit(struct {
			Type string `json:"type"`
			Diagnostic
		}{"diagnostic", d}); err != nil {
			return err
		}
	}
	for _, e := range r.Timeline {
		if err := emit(struct {
			Type string `json:"type"`
			TimelineEntry
		}{"timeline", e}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteCSV writes one row per interval.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Thread", "Start", "End", "Duration", "State", "Markers"})
	for _, iv := range r.Intervals {
		labels := make([]string, len(iv.Markers))
		for i, m := range iv.Markers {
			labels[i] = m.Label
		}
		cw.Write([]string{
			strconv.Itoa(iv.Thread),
			strconv.FormatInt(iv.StartUs, 10),
			strconv.FormatInt(iv.EndUs, 10),
			strconv.FormatInt(iv.DurationUs, 10),
			iv.State,
			strings.Join(labels, ";"),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteStatisticsCSV writes one row per thread and state.
func WriteStatisticsCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Thread", "State", "Count", "Min", "Max", "Total", "Average", "Median", "Percent"})
	for _, th := range r.Threads {
		for _, state := range reportedStates {
			stat := th.States[state.String()]
			cw.Write([]string{
				strconv.Itoa(th.Thread),
				state.String(),
				fmt.Sprintf("%d", stat.Count),
				fmt.Sprintf("%d", stat.MinUs),
				fmt.Sprintf("%d", stat.MaxUs),
				fmt.Sprintf("%d", stat.TotalUs),
				fmt.Sprintf("%f", stat.AverageUs),
				fmt.Sprintf("%f", stat.MedianUs),
				fmt.Sprintf("%.2f", stat.Percent),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}
