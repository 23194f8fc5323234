package report

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jlelli/rt-audit/internal/analysis"
	"github.com/jlelli/rt-audit/internal/rtapp"
	"github.com/jlelli/rt-audit/internal/taskset"
)

// Combine merges the two sufficient verdicts. Failing both tests is
// inconclusive, never a proof of unschedulability.
func Combine(gfbOK, bclOK bool) Verdict {
	switch {
	case gfbOK && bclOK:
		return VerdictBoth
	case gfbOK:
		return VerdictGFBOnly
	case bclOK:
		return VerdictBCLOnly
	default:
		return VerdictInconclusive
	}
}

// Generate runs both tests against ts and combines them.
func Generate(ts *taskset.Taskset, source string, cfg Config) (*Report, error) {
	gfb, err := analysis.CheckGFB(ts)
	if err != nil {
		return nil, fmt.Errorf("GFB analysis: %w", err)
	}
	bcl, err := analysis.CheckBCL(ts, analysis.BCLOptions{
		Workers:   cfg.Workers,
		Tolerance: cfg.Tolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("BCL analysis: %w", err)
	}

	r := newReport(source, cfg, ts.Warnings())
	r.ProcessorCount = ts.ProcessorCount()
	r.TaskCount = ts.Len()
	r.GFB = &gfb
	r.BCL = bcl
	r.Verdict = Combine(gfb.Schedulable, bcl.Schedulable)
	return r, nil
}

// Inconclusive builds the report for an analysis that could not run because
// no valid task remained.
func Inconclusive(source string, cfg Config, warnings []taskset.Warning, err error) *Report {
	r := newReport(source, cfg, warnings)
	r.Verdict = VerdictInconclusive
	r.Failure = &Failure{Kind: FailureEmptyTaskset, Message: err.Error()}
	return r
}

// Analyze parses an rt-app document and produces its report. An empty
// taskset yields an inconclusive report with a Failure, not an error;
// structural problems such as an unresolvable processor count are errors.
func Analyze(data []byte, source string, cfg Config, logger *slog.Logger) (*Report, error) {
	raw, err := rtapp.ParseTasks(data)
	if errors.Is(err, rtapp.ErrNoTasks) {
		logger.Warn("taskset has no tasks", "source", source)
		return Inconclusive(source, cfg, nil, taskset.ErrEmptyTaskset), nil
	}
	if err != nil {
		return nil, err
	}
	return FromRaw(raw, source, cfg, logger)
}

// FromRaw is Analyze for already-parsed tasks. Tasks named in cfg.Exclude
// are dropped after validation; the processor count is unaffected.
func FromRaw(raw []rtapp.RawTask, source string, cfg Config, logger *slog.Logger) (*Report, error) {
	ts, err := taskset.Build(raw, taskset.Options{CPUs: cfg.CPUs})
	for _, w := range ts.Warnings() {
		logger.Warn("skipping task", "source", source, "task", w.Task, "reason", w.Reason)
	}
	if errors.Is(err, taskset.ErrEmptyTaskset) {
		return Inconclusive(source, cfg, ts.Warnings(), err), nil
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.Exclude) > 0 {
		ts = ts.Filter(func(t taskset.Task) bool { return !slices.Contains(cfg.Exclude, t.Name) })
		if ts.Len() == 0 {
			return Inconclusive(source, cfg, ts.Warnings(), taskset.ErrEmptyTaskset), nil
		}
	}

	logger.Debug("analysing taskset", "source", source, "tasks", ts.Len(), "cpus", ts.ProcessorCount())
	return Generate(ts, source, cfg)
}

// Err returns the typed error behind a Failure, or nil.
func (r *Report) Err() error {
	if r.Failure == nil {
		return nil
	}
	switch r.Failure.Kind {
	case FailureEmptyTaskset:
		return taskset.ErrEmptyTaskset
	}
	return errors.New(r.Failure.Message)
}

func newReport(source string, cfg Config, warnings []taskset.Warning) *Report {
	return &Report{
		ID:        "audit-" + uuid.New().String(),
		CreatedAt: time.Now(),
		Source:    source,
		Warnings:  warnings,
		Config:    cfg,
	}
}
