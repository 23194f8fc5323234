package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jlelli/rt-audit/internal/report"
	"github.com/jlelli/rt-audit/internal/taskset"
	"github.com/jlelli/rt-audit/internal/ui"
)

const unschedulabilityNote = "Neither sufficient test certified the taskset. This is not a proof of unschedulability."

// Reporter renders a schedulability report for terminals and machines.
type Reporter struct {
	Report  *report.Report
	Verbose bool // include the per-task beta breakdown
}

// New creates a new Reporter.
func New(r *report.Report) *Reporter {
	return &Reporter{Report: r}
}

// PrintReport writes the full terminal report.
func (r *Reporter) PrintReport(w io.Writer) {
	rep := r.Report
	r.printHeader(w)
	r.printWarnings(w)

	if rep.Failure != nil {
		fmt.Fprintf(w, "\n  %s %s\n", ui.BoldYellow("⚠"), rep.Failure.Message)
		fmt.Fprintf(w, "  %s\n", ui.Dim("No analysis was run."))
		r.printVerdict(w)
		return
	}

	r.printGFB(w)
	r.printBCL(w)
	r.printVerdict(w)
}

func (r *Reporter) printHeader(w io.Writer) {
	rep := r.Report
	fmt.Fprintf(w, "%s %s\n", ui.BoldCyan("⏱  Schedulability report"), ui.Dim(rep.ID))
	fmt.Fprintf(w, "%s\n", ui.Cyan("══════════════════════════════════"))
	if rep.Source != "" {
		fmt.Fprintf(w, "Source:      %s\n", rep.Source)
	}
	fmt.Fprintf(w, "Processors:  %s\n", ui.Bold(rep.ProcessorCount))
	fmt.Fprintf(w, "Tasks:       %s\n", ui.Bold(rep.TaskCount))
	if len(rep.Config.Exclude) > 0 {
		fmt.Fprintf(w, "Excluded:    %s\n", ui.Dim(strings.Join(rep.Config.Exclude, ", ")))
	}
}

func (r *Reporter) printWarnings(w io.Writer) {
	warnings := r.Report.Warnings
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", ui.BoldYellow(fmt.Sprintf("Warnings (%d):", len(warnings))))
	for _, wn := range warnings {
		fmt.Fprintf(w, "  %s %s %s\n", ui.Yellow("⚠"), ui.TaskPrefix(wn.Task), wn.Reason)
	}
}

func (r *Reporter) printGFB(w io.Writer) {
	gfb := r.Report.GFB
	fmt.Fprintf(w, "\n%s %s\n", ui.BoldWhite("GFB test"), ui.Dim("U_total <= m - (m-1) * U_max"))
	for _, u := range gfb.Utilizations {
		fmt.Fprintf(w, "    %s U=%.4f\n", ui.TaskPrefix(u.Task), u.Utilization)
	}
	fmt.Fprintf(w, "  U_total = %.4f   U_max = %.4f   bound = %.4f   %s\n",
		gfb.TotalUtilization, gfb.MaxUtilization, gfb.Bound, passText(gfb.Schedulable))
}

func (r *Reporter) printBCL(w io.Writer) {
	bcl := r.Report.BCL
	fmt.Fprintf(w, "\n%s %s\n", ui.BoldWhite("BCL test"), ui.Dim("per-task interference bound"))

	table := tablewriter.NewWriter(w)
	table.Header("Task", "lambda_k", "beta sum", "bound", "C1", "C2", "Pass")
	for _, name := range bcl.Order {
		tr := bcl.Tasks[name]
		_ = table.Append(
			name,
			fmt.Sprintf("%.4f", tr.LambdaK),
			fmt.Sprintf("%.4f", tr.BetaSum),
			fmt.Sprintf("%.4f", tr.Bound),
			ui.PassIcon(tr.Condition1),
			ui.PassIcon(tr.Condition2),
			ui.PassIcon(tr.Schedulable),
		)
	}
	if err := table.Render(); err != nil {
		fmt.Fprintf(w, "  %s\n", ui.Red("could not render BCL table: "+err.Error()))
	}

	if r.Verbose {
		for _, name := range bcl.Order {
			tr := bcl.Tasks[name]
			fmt.Fprintf(w, "  %s 1 - lambda_k = %.4f\n", ui.TaskPrefix(name), 1-tr.LambdaK)
			for _, other := range bcl.Order {
				beta, ok := tr.Betas[other]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "      beta(%s) = %.4f\n", other, beta)
			}
		}
	}

	fmt.Fprintf(w, "  BCL: %s", passText(bcl.Schedulable))
	if failing := bcl.Failing(); len(failing) > 0 {
		fmt.Fprintf(w, " %s", ui.Dim("(failing: "+strings.Join(failing, ", ")+")"))
	}
	fmt.Fprintln(w)
}

func (r *Reporter) printVerdict(w io.Writer) {
	v := r.Report.Verdict
	fmt.Fprintf(w, "\n%s %s\n", ui.Bold("Verdict:"), ui.VerdictLabel(v))
	fmt.Fprintf(w, "  %s\n", v.Describe())
	if !v.Schedulable() {
		fmt.Fprintf(w, "  %s\n", ui.Dim(unschedulabilityNote))
	}
}

func passText(ok bool) string {
	if ok {
		return ui.Green("✓ schedulable")
	}
	return ui.Red("✗ not certified")
}

// JSON returns the machine-readable report.
func (r *Reporter) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Report, "", "  ")
}

// Summary returns a one-block summary of the verdict.
func (r *Reporter) Summary() string {
	var b strings.Builder
	rep := r.Report

	emoji := "✅"
	if !rep.Verdict.Schedulable() {
		emoji = "⚠️"
	}
	fmt.Fprintf(&b, "%s %s %s\n", emoji, ui.VerdictLabel(rep.Verdict), ui.Dim(rep.ID))
	fmt.Fprintf(&b, "Source:  %s\n", rep.Source)
	fmt.Fprintf(&b, "Tasks:   %d on %d processors", rep.TaskCount, rep.ProcessorCount)
	if n := taskset.CountSkipped(rep.Warnings); n > 0 {
		fmt.Fprintf(&b, " %s", ui.Yellow(fmt.Sprintf("(%d skipped)", n)))
	}
	if n := len(rep.Warnings) - taskset.CountSkipped(rep.Warnings); n > 0 {
		fmt.Fprintf(&b, " %s", ui.Yellow(fmt.Sprintf("(%d warnings)", n)))
	}
	fmt.Fprintln(&b)
	if rep.GFB != nil && rep.BCL != nil {
		fmt.Fprintf(&b, "GFB:     %s  BCL: %s\n", ui.PassIcon(rep.GFB.Schedulable), ui.PassIcon(rep.BCL.Schedulable))
	}
	if rep.Failure != nil {
		fmt.Fprintf(&b, "Failure: %s\n", rep.Failure.Message)
	}
	return b.String()
}
