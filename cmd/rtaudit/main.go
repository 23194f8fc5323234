package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jlelli/rt-audit/internal/batch"
	"github.com/jlelli/rt-audit/internal/config"
	"github.com/jlelli/rt-audit/internal/convert"
	"github.com/jlelli/rt-audit/internal/generator"
	"github.com/jlelli/rt-audit/internal/history"
	"github.com/jlelli/rt-audit/internal/logging"
	"github.com/jlelli/rt-audit/internal/logstats"
	"github.com/jlelli/rt-audit/internal/report"
	"github.com/jlelli/rt-audit/internal/reporter"
	"github.com/jlelli/rt-audit/internal/rtapp"
	"github.com/jlelli/rt-audit/internal/server"
	"github.com/jlelli/rt-audit/internal/sysdeps"
	"github.com/jlelli/rt-audit/internal/taskset"
	"github.com/jlelli/rt-audit/internal/ui"
)

var (
	flagJSON      bool
	flagLogLevel  string
	flagLogFormat string
	flagDB        string

	flagCPUs      int
	flagWorkers   int
	flagTolerance float64
	flagExclude   []string
	flagParallel  int
	flagVerbose   bool
	flagSummary   bool
	flagTemplate  string
	flagNoSave    bool

	flagOutput   string
	flagExamples string
	flagCheck    bool

	flagConfig string

	flagBasename string

	flagLimit  int
	flagLatest bool

	flagAddr      string
	flagRateLimit float64
	flagRateBurst int
)

// exitError carries a process exit status other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtaudit",
		Short: "Schedulability analysis for SCHED_DEADLINE tasksets",
		Long: `rtaudit reads rt-app taskset descriptions and checks whether they are
schedulable under global EDF on identical processors, using the GFB
utilization bound and the BCL interference test. Both tests are sufficient
only: failing them is inconclusive, not a proof of unschedulability.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := config.DefaultServerConfig()
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", defaults.LogFormat, "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", history.DefaultPath(), "Report history database path")

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(depsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.Red("error:"), err)
		os.Exit(code)
	}
}

func newLogger() *slog.Logger {
	return logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
}

func analysisConfig() report.Config {
	return report.Config{
		CPUs:      flagCPUs,
		Workers:   flagWorkers,
		Tolerance: flagTolerance,
		Exclude:   flagExclude,
	}
}

// openHistory opens the report store, or returns nil when saving is off.
func openHistory(ctx context.Context, logger *slog.Logger) (*history.Store, error) {
	if flagNoSave {
		return nil, nil
	}
	st, err := history.Open(flagDB, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func checkCmd() *cobra.Command {
	defaults := config.DefaultAnalysisConfig()
	cmd := &cobra.Command{
		Use:   "check <taskset.json>...",
		Short: "Run the GFB and BCL tests against rt-app taskset files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()

			store, err := openHistory(ctx, logger)
			if err != nil {
				logger.Warn("report history unavailable", "db", flagDB, "error", err)
			}
			if store != nil {
				defer store.Close()
			}

			if len(args) > 1 {
				return checkBatch(ctx, args, store, logger)
			}

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			rep, err := report.Analyze(data, filepath.Base(path), analysisConfig(), logger)
			if err != nil {
				return fmt.Errorf("analyse %s: %w", path, err)
			}
			if store != nil {
				if err := store.Save(ctx, rep); err != nil {
					logger.Warn("save report", "id", rep.ID, "error", err)
				}
			}

			if err := printReport(rep); err != nil {
				return err
			}
			if err := rep.Err(); errors.Is(err, taskset.ErrEmptyTaskset) {
				return &exitError{code: 2, err: fmt.Errorf("%s: %w", path, err)}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagCPUs, "cpus", 0, "Processor count (default: derived from the first task's affinity)")
	cmd.Flags().IntVar(&flagWorkers, "workers", defaults.Workers, "Goroutines evaluating BCL tasks")
	cmd.Flags().Float64Var(&flagTolerance, "tolerance", defaults.Tolerance, "Absolute tolerance for the BCL equality condition")
	cmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "Task names to leave out of the analysis")
	cmd.Flags().IntVar(&flagParallel, "parallel", defaults.Parallel, "Files analysed concurrently")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Show the per-task beta breakdown")
	cmd.Flags().BoolVar(&flagSummary, "summary", false, "Print a one-block summary only")
	cmd.Flags().StringVar(&flagTemplate, "template", "", "Render the report with a custom text/template")
	cmd.Flags().BoolVar(&flagNoSave, "no-save", false, "Do not record the report in the history database")

	return cmd
}

func printReport(rep *report.Report) error {
	rp := reporter.New(rep)
	if flagJSON {
		data, err := rp.JSON()
		if err != nil {
			return fmt.Errorf("encode report %s: %w", rep.ID, err)
		}
		fmt.Println(string(data))
		return nil
	}
	if flagTemplate != "" {
		out, err := reporter.RenderTemplate(rep, flagTemplate)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}
	if flagSummary {
		fmt.Println(rp.Summary())
		return nil
	}
	rp.Verbose = flagVerbose
	rp.PrintReport(os.Stdout)
	return nil
}

func checkBatch(ctx context.Context, paths []string, store *history.Store, logger *slog.Logger) error {
	cfg := batch.Config{
		MaxParallel: flagParallel,
		Analysis:    analysisConfig(),
	}
	if !flagJSON {
		cfg.Progress = os.Stderr
	}
	runner := batch.New(cfg, logger)
	if store != nil {
		runner.OnReport = store.Save
	}

	outcomes, err := runner.Run(ctx, paths)
	if err != nil {
		return err
	}
	tally := batch.Count(outcomes)

	if flagJSON {
		if err := outputJSON(map[string]any{"outcomes": outcomes, "tally": tally}); err != nil {
			return err
		}
	} else {
		reporter.PrintBatch(os.Stdout, outcomes)
	}

	if tally.Failed > 0 {
		return fmt.Errorf("%d of %d files could not be analysed", tally.Failed, tally.Total)
	}
	return nil
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input.csv|input.yaml>",
		Short: "Convert a CSV or YAML taskset description to rt-app JSON",
		Args: func(cmd *cobra.Command, args []string) error {
			if flagExamples != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			if flagExamples != "" {
				written, err := convert.WriteExamples(flagExamples)
				if err != nil {
					return err
				}
				for _, p := range written {
					fmt.Printf("%s %s\n", ui.Green("✓"), p)
				}
				return nil
			}

			input, err := convert.Load(args[0])
			if err != nil {
				return err
			}
			doc, err := convert.ToRTApp(input)
			if err != nil {
				return fmt.Errorf("convert %s: %w", args[0], err)
			}
			data, err := rtapp.Marshal(doc)
			if err != nil {
				return err
			}

			out := flagOutput
			if out == "" {
				out = trimExt(args[0]) + ".json"
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			logger.Info("wrote rt-app taskset", "path", out, "tasks", len(doc.Tasks))
			if !flagJSON {
				fmt.Printf("%s Converted %s -> %s (%d tasks)\n", ui.Green("✓"), args[0], out, len(doc.Tasks))
			}

			if !flagCheck {
				return nil
			}
			return checkDocument(doc, filepath.Base(out), input.CPUs, logger)
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output path (default: input name with .json)")
	cmd.Flags().StringVar(&flagExamples, "examples", "", "Write example input files into this directory")
	cmd.Flags().BoolVar(&flagCheck, "check", false, "Analyse the converted taskset")

	return cmd
}

// checkDocument analyses a document the CLI just produced.
func checkDocument(doc *rtapp.Document, source string, cpus int, logger *slog.Logger) error {
	rep, err := report.FromRaw(doc.RawTasks(), source, report.Config{CPUs: cpus, Workers: config.DefaultAnalysisConfig().Workers}, logger)
	if err != nil {
		return err
	}
	if err := printReport(rep); err != nil {
		return err
	}
	if err := rep.Err(); errors.Is(err, taskset.ErrEmptyTaskset) {
		return &exitError{code: 2, err: err}
	}
	return nil
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}

func generateCmd() *cobra.Command {
	var (
		cfg     = config.DefaultGeneratorConfig()
		noLock  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random SCHED_DEADLINE taskset with UUniFast",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			final := config.DefaultGeneratorConfig()
			if flagConfig != "" {
				loaded, err := generator.LoadConfig(flagConfig, final)
				if err != nil {
					return err
				}
				final = loaded
			}
			overlayGeneratorFlags(cmd, &final, cfg, noLock)

			seed := final.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			res, err := generator.Generate(final, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			data, err := rtapp.Marshal(res.Document)
			if err != nil {
				return err
			}
			if err := os.WriteFile(final.Output, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", final.Output, err)
			}
			logger.Info("generated taskset", "path", final.Output, "tasks", final.Tasks,
				"cpus", final.CPUs, "seed", seed, "attempts", res.Attempts)

			if flagJSON && !flagCheck {
				return outputJSON(map[string]any{
					"output":       final.Output,
					"seed":         seed,
					"attempts":     res.Attempts,
					"utilizations": res.Utilizations,
				})
			}
			if !flagJSON {
				total := 0.0
				for _, u := range res.Utilizations {
					total += u
				}
				fmt.Printf("%s Generated %d tasks on %d cpus (U=%.3f) -> %s\n",
					ui.Green("✓"), final.Tasks, final.CPUs, total, final.Output)
				if verbose {
					for i, t := range res.Document.Tasks {
						fmt.Printf("  %s u=%.4f runtime=%dus period=%dus\n",
							ui.TaskPrefix(t.Name), res.Utilizations[i], t.Config.Runtime, t.Config.Period)
					}
				}
			}

			if !flagCheck {
				return nil
			}
			return checkDocument(res.Document, filepath.Base(final.Output), final.CPUs, logger)
		},
	}

	cmd.Flags().IntVarP(&cfg.CPUs, "cpus", "c", cfg.CPUs, "Number of processors")
	cmd.Flags().IntVarP(&cfg.Tasks, "tasks", "n", cfg.Tasks, "Number of tasks")
	cmd.Flags().IntVar(&cfg.MinPeriodMS, "min-period", cfg.MinPeriodMS, "Minimum period in ms")
	cmd.Flags().IntVar(&cfg.MaxPeriodMS, "max-period", cfg.MaxPeriodMS, "Maximum period in ms")
	cmd.Flags().Float64Var(&cfg.MaxUtil, "max-util", cfg.MaxUtil, "Per-task utilization cap")
	cmd.Flags().Float64Var(&cfg.TotalUtil, "total-util", cfg.TotalUtil, "Total utilization (default 0.7 x cpus)")
	cmd.Flags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output file")
	cmd.Flags().Float64Var(&cfg.SystemOverhead, "system-overhead", cfg.SystemOverhead, "Fraction of runtime reserved for system overhead")
	cmd.Flags().BoolVar(&cfg.LockPages, "lock-pages", cfg.LockPages, "Set lock_pages in the global section")
	cmd.Flags().BoolVar(&noLock, "no-lock-pages", false, "Clear lock_pages in the global section")
	cmd.Flags().StringVar(&cfg.Ftrace, "ftrace", cfg.Ftrace, "rt-app ftrace categories")
	cmd.Flags().StringVar(&cfg.EventType, "event-type", cfg.EventType, "Workload event (run, runtime)")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 picks one from the clock)")
	cmd.Flags().StringVar(&flagConfig, "config", "", "JSON or YAML generator parameter file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every generated task")
	cmd.Flags().BoolVar(&flagCheck, "check", false, "Analyse the generated taskset")

	return cmd
}

// overlayGeneratorFlags copies explicitly set flags from flags onto dst.
func overlayGeneratorFlags(cmd *cobra.Command, dst *config.GeneratorConfig, flags config.GeneratorConfig, noLock bool) {
	set := cmd.Flags().Changed
	if set("cpus") {
		dst.CPUs = flags.CPUs
	}
	if set("tasks") {
		dst.Tasks = flags.Tasks
	}
	if set("min-period") {
		dst.MinPeriodMS = flags.MinPeriodMS
	}
	if set("max-period") {
		dst.MaxPeriodMS = flags.MaxPeriodMS
	}
	if set("max-util") {
		dst.MaxUtil = flags.MaxUtil
	}
	if set("total-util") {
		dst.TotalUtil = flags.TotalUtil
	}
	if set("output") {
		dst.Output = flags.Output
	}
	if set("system-overhead") {
		dst.SystemOverhead = flags.SystemOverhead
	}
	if set("lock-pages") {
		dst.LockPages = flags.LockPages
	}
	if noLock {
		dst.LockPages = false
	}
	if set("ftrace") {
		dst.Ftrace = flags.Ftrace
	}
	if set("event-type") {
		dst.EventType = flags.EventType
	}
	if set("seed") {
		dst.Seed = flags.Seed
	}
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [dir]",
		Short: "Summarise deadline misses and latencies from rt-app logs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			sum, err := logstats.AnalyzeDir(dir, flagBasename, newLogger())
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(sum)
			}
			reporter.PrintLogStats(os.Stdout, sum)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagBasename, "basename", logstats.DefaultBasename, "rt-app log_basename")

	return cmd
}

func depsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that rt-app and a SCHED_DEADLINE kernel are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := sysdeps.NewChecker().Run(cmd.Context())
			if flagJSON {
				if err := outputJSON(res); err != nil {
					return err
				}
			} else {
				reporter.PrintChecks(os.Stdout, res)
			}
			if !res.OK {
				return errors.New("required dependencies are missing")
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [report-id]",
		Short: "List or show previously analysed reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := history.Open(flagDB, newLogger())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			var rep *report.Report
			switch {
			case len(args) == 1:
				rep, err = store.Get(ctx, args[0])
			case flagLatest:
				rep, err = store.Latest(ctx)
			default:
				entries, err := store.List(ctx, flagLimit)
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(entries)
				}
				reporter.PrintHistory(os.Stdout, entries)
				return nil
			}
			if err != nil {
				return err
			}
			return printReport(rep)
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum entries listed (0 for all)")
	cmd.Flags().BoolVar(&flagLatest, "latest", false, "Show the most recent report")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Show the per-task beta breakdown")

	return cmd
}

func serveCmd() *cobra.Command {
	defaults := config.DefaultServerConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis over a REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := config.DefaultServerConfig()
			cfg.Addr = flagAddr
			cfg.LogLevel = flagLogLevel
			cfg.LogFormat = flagLogFormat
			cfg.DBPath = flagDB
			cfg.RateLimit = flagRateLimit
			cfg.RateBurst = flagRateBurst
			logger := newLogger()

			store, err := history.Open(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			ui.PrintLogo(os.Stderr)
			srv := server.New(cfg, logger,
				server.WithStore(store),
				server.WithAnalysis(analysisConfig()),
			)
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	analysis := config.DefaultAnalysisConfig()
	cmd.Flags().StringVar(&flagAddr, "addr", defaults.Addr, "Listen address")
	cmd.Flags().Float64Var(&flagRateLimit, "rate-limit", defaults.RateLimit, "Analyze requests per second (0 disables)")
	cmd.Flags().IntVar(&flagRateBurst, "rate-burst", defaults.RateBurst, "Analyze request burst")
	cmd.Flags().IntVar(&flagWorkers, "workers", analysis.Workers, "Goroutines evaluating BCL tasks")
	cmd.Flags().Float64Var(&flagTolerance, "tolerance", analysis.Tolerance, "Default BCL equality tolerance")

	return cmd
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
