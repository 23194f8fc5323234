package report

import (
	"time"

	"github.com/jlelli/rt-audit/internal/analysis"
	"github.com/jlelli/rt-audit/internal/taskset"
)

// Verdict classifies which sufficient test(s) certified the taskset.
type Verdict string

const (
	VerdictBoth         Verdict = "schedulable-by-both"
	VerdictGFBOnly      Verdict = "schedulable-by-gfb-only"
	VerdictBCLOnly      Verdict = "schedulable-by-bcl-only"
	VerdictInconclusive Verdict = "inconclusive"
)

// Schedulable reports whether at least one test certified the taskset.
func (v Verdict) Schedulable() bool {
	switch v {
	case VerdictBoth, VerdictGFBOnly, VerdictBCLOnly:
		return true
	}
	return false
}

// Describe returns a human-readable sentence for the verdict.
func (v Verdict) Describe() string {
	switch v {
	case VerdictBoth:
		return "schedulable according to BOTH tests"
	case VerdictGFBOnly:
		return "schedulable according to the GFB test only"
	case VerdictBCLOnly:
		return "schedulable according to the BCL test only"
	default:
		return "not certified by either test (inconclusive)"
	}
}

// FailureKind names a structural failure that stopped an analysis.
type FailureKind string

const (
	FailureEmptyTaskset FailureKind = "empty-taskset"
)

// Failure records why an analysis could not run.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Config holds the knobs an analysis was run with.
type Config struct {
	CPUs      int      `json:"cpus,omitempty"` // processor count override
	Workers   int      `json:"workers"`
	Tolerance float64  `json:"tolerance"`
	Exclude   []string `json:"exclude,omitempty"` // task names left out of the analysis
}

// Report is the combined outcome of the GFB and BCL tests for one taskset.
type Report struct {
	ID             string              `json:"id"`
	CreatedAt      time.Time           `json:"created_at"`
	Source         string              `json:"source"`
	ProcessorCount int                 `json:"processor_count"`
	TaskCount      int                 `json:"task_count"`
	Warnings       []taskset.Warning   `json:"warnings,omitempty"`
	GFB            *analysis.GFBResult `json:"gfb,omitempty"`
	BCL            *analysis.BCLResult `json:"bcl,omitempty"`
	Verdict        Verdict             `json:"verdict"`
	Failure        *Failure            `json:"failure,omitempty"`
	Config         Config              `json:"config"`
}
