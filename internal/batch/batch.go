// Package batch analyses several taskset files concurrently.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jlelli/rt-audit/internal/report"
)

// Config holds batch runner configuration.
type Config struct {
	MaxParallel int           // files analysed at once (default 4)
	Analysis    report.Config // passed to every analysis
	Progress    io.Writer     // progress bar destination; nil disables it
}

// Outcome is the result for one input file: either a report or an error.
type Outcome struct {
	Path   string         `json:"path"`
	Report *report.Report `json:"report,omitempty"`
	Err    error          `json:"-"`
	Error  string         `json:"error,omitempty"`
}

// Tally counts outcomes by kind.
type Tally struct {
	Total        int `json:"total"`
	Schedulable  int `json:"schedulable"`
	Inconclusive int `json:"inconclusive"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"` // not analysed because the batch was cancelled
}

// Runner fans analyses out over a bounded set of goroutines.
type Runner struct {
	Config Config

	// OnReport is called for every successful report, from worker
	// goroutines. An error fails that file's outcome.
	OnReport func(ctx context.Context, r *report.Report) error

	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// New creates a Runner.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Runner{
		Config:   cfg,
		logger:   logger.With("component", "batch"),
		readFile: os.ReadFile,
	}
}

// Run analyses every path and returns outcomes in input order. A failing
// file does not stop the others; only cancellation of ctx aborts the run.
func (r *Runner) Run(ctx context.Context, paths []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(paths))
	for i, path := range paths {
		outcomes[i].Path = path
	}

	var bar *progressbar.ProgressBar
	if r.Config.Progress != nil && len(paths) > 1 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(r.Config.Progress),
			progressbar.OptionSetDescription("Analysing tasksets"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Config.MaxParallel)

	r.logger.Debug("batch started", "files", len(paths), "max_parallel", r.Config.MaxParallel)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := r.analyze(gctx, path)
			outcomes[i] = out
			if out.Err != nil {
				r.logger.Warn("analysis failed", "file", path, "error", out.Err)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, fmt.Errorf("batch cancelled: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return outcomes, nil
}

func (r *Runner) analyze(ctx context.Context, path string) Outcome {
	out := Outcome{Path: path}
	fail := func(err error) Outcome {
		out.Err = err
		out.Error = err.Error()
		return out
	}

	data, err := r.readFile(path)
	if err != nil {
		return fail(fmt.Errorf("read %s: %w", path, err))
	}
	rep, err := report.Analyze(data, filepath.Base(path), r.Config.Analysis, r.logger.With("file", path))
	if err != nil {
		return fail(fmt.Errorf("analyse %s: %w", path, err))
	}
	if r.OnReport != nil {
		if err := r.OnReport(ctx, rep); err != nil {
			return fail(fmt.Errorf("store report for %s: %w", path, err))
		}
	}
	out.Report = rep
	return out
}

// Count tallies outcomes.
func Count(outcomes []Outcome) Tally {
	t := Tally{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			t.Failed++
		case o.Report == nil:
			t.Skipped++
		case o.Report.Verdict.Schedulable():
			t.Schedulable++
		default:
			t.Inconclusive++
		}
	}
	return t
}
