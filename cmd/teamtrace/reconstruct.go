package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"honnef.co/go/teamtrace/report"
	"honnef.co/go/teamtrace/trace"
	"honnef.co/go/teamtrace/trace/ptrace"
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <trace>",
	Short: "Reconstruct thread timelines from a capture",
	Long: `Reconstructs the timelines of all threads in a capture and writes them, with per-thread and global
summaries, in the requested format. The capture may be compressed with zstd or snappy. Use - to read standard input.

Malformed lines and unbalanced regions are reported on standard error and don't stop the reconstruction, unless
--strict is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(viper.GetString("format"))
		if err != nil {
			return err
		}
		cfg := reconstructConfig{
			Path:     args[0],
			Format:   format,
			Output:   viper.GetString("output"),
			Strict:   viper.GetBool("strict"),
			Workers:  viper.GetInt("workers"),
			Bucket:   viper.GetDuration("utilization-bucket"),
			Timeline: viper.GetBool("timeline"),
		}
		return runReconstruct(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	flags := reconstructCmd.Flags()
	flags.StringP("format", "f", string(report.FormatJSON), fmt.Sprintf("output format (%s)", formatNames()))
	flags.StringP("output", "o", "", "write the report to this file instead of standard output")
	flags.Bool("strict", false, "fail on the first malformed line or unbalanced region")
	flags.Int("workers", runtime.GOMAXPROCS(0), "number of threads to reconstruct concurrently")
	flags.Duration("utilization-bucket", 0, "if set, report per-thread utilization over buckets of this size")
	flags.Bool("timeline", false, "include the chronological listing of all events (always included in text output)")
	if err := viper.BindPFlags(flags); err != nil {
		logrus.WithError(err).Fatal("Failed to set up flags")
	}
	rootCmd.AddCommand(reconstructCmd)
}

func formatNames() string {
	names := make([]string, len(report.Formats))
	for i, f := range report.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

type reconstructConfig struct {
	Path     string
	Format   report.Format
	Output   string
	Strict   bool
	Workers  int
	Bucket   time.Duration
	Timeline bool
}

func runReconstruct(ctx context.Context, cfg reconstructConfig, stdout, stderr io.Writer) (err error) {
	log := logrus.WithField("trace", cfg.Path)

	rc, err := trace.Open(cfg.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	start := time.Now()
	res, err := trace.Parse(rc, cfg.Strict)
	if err != nil {
		return fmt.Errorf("couldn't parse %s: %w", cfg.Path, err)
	}
	log.WithFields(logrus.Fields{
		"lines":     res.Lines,
		"events":    len(res.Events),
		"ignored":   res.Ignored,
		"malformed": len(res.Errors),
		"elapsed":   time.Since(start),
	}).Debug("Parsed capture")

	start = time.Now()
	tr, err := ptrace.Build(ctx, res.Events, ptrace.Options{
		Workers: cfg.Workers,
		Strict:  cfg.Strict,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("couldn't reconstruct %s: %w", cfg.Path, err)
	}
	log.WithFields(logrus.Fields{
		"threads": len(tr.Threads),
		"elapsed": time.Since(start),
	}).Debug("Reconstructed timelines")

	ropts := report.Options{UtilizationBucket: cfg.Bucket}
	if cfg.Timeline || cfg.Format == report.FormatText {
		ropts.Events = res.Events
	}
	r := report.New(tr, res.Errors, ropts)

	out := stdout
	if cfg.Output != "" && cfg.Output != "-" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		out = f
	}
	if err := report.Write(out, cfg.Format, r); err != nil {
		return fmt.Errorf("couldn't write report: %w", err)
	}

	for _, d := range r.Diagnostics {
		log.WithField("kind", d.Kind).Debug(d.Message)
	}
	printDiagnosticsSummary(stderr, r)
	return nil
}

// printDiagnosticsSummary prints the number of diagnostics per kind, if there are any.
func printDiagnosticsSummary(w io.Writer, r *report.Report) {
	if len(r.Diagnostics) == 0 {
		return
	}
	kinds := make([]string, 0, len(r.Summary.Diagnostics))
	for kind := range r.Summary.Diagnostics {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	parts := make([]string, len(kinds))
	for i, kind := range kinds {
		parts[i] = fmt.Sprintf("%s: %d", kind, r.Summary.Diagnostics[kind])
	}
	fmt.Fprintf(w, "%d diagnostics (%s)\n", len(r.Diagnostics), strings.Join(parts, ", "))
	if r.Summary.TruncatedThreads > 0 {
		fmt.Fprintf(w, "%d thread(s) truncated due to unbalanced regions\n", r.Summary.TruncatedThreads)
	}
}
