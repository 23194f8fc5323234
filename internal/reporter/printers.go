package reporter

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/jlelli/rt-audit/internal/batch"
	"github.com/jlelli/rt-audit/internal/history"
	"github.com/jlelli/rt-audit/internal/logstats"
	"github.com/jlelli/rt-audit/internal/sysdeps"
	"github.com/jlelli/rt-audit/internal/ui"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func us(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// PrintLogStats writes per-task and overall rt-app log statistics.
func PrintLogStats(w io.Writer, sum *logstats.Summary) {
	fmt.Fprintf(w, "%s %s\n\n", ui.BoldCyan("📊 Execution summary"), ui.Dim(sum.Dir))

	table := tablewriter.NewWriter(w)
	table.Header("Task", "Samples", "Misses", "Worst slack", "Slack avg", "Slack p99", "Wakeup avg", "Wakeup p99", "Wakeup max")
	rows := append(slices.Clone(sum.Tasks), sum.Overall)
	for _, ts := range rows {
		misses := strconv.Itoa(ts.DeadlineMisses)
		if ts.DeadlineMisses > 0 {
			misses = ui.Red(misses)
		}
		worst := "-"
		if ts.DeadlineMisses > 0 {
			worst = us(ts.WorstViolation)
		}
		_ = table.Append(
			ts.Task,
			strconv.Itoa(ts.Slack.Count),
			misses,
			worst,
			us(ts.Slack.Mean),
			us(ts.Slack.P99),
			us(ts.WakeupLatency.Mean),
			us(ts.WakeupLatency.P99),
			us(ts.WakeupLatency.Max),
		)
	}
	if err := table.Render(); err != nil {
		fmt.Fprintf(w, "%s\n", ui.Red("could not render log table: "+err.Error()))
	}

	fmt.Fprintf(w, "\nSlack (us):           min %s  std %s  p95 %s  max %s\n",
		us(sum.Overall.Slack.Min), us(sum.Overall.Slack.Std), us(sum.Overall.Slack.P95), us(sum.Overall.Slack.Max))
	fmt.Fprintf(w, "Wakeup latency (us):  min %s  std %s  p95 %s  max %s\n",
		us(sum.Overall.WakeupLatency.Min), us(sum.Overall.WakeupLatency.Std), us(sum.Overall.WakeupLatency.P95), us(sum.Overall.WakeupLatency.Max))
	if sum.Overall.DeadlineMisses == 0 {
		fmt.Fprintf(w, "%s\n", ui.Green("✓ no deadline misses"))
	} else {
		fmt.Fprintf(w, "%s\n", ui.BoldRed(fmt.Sprintf("✗ %d deadline misses, worst slack %s us", sum.Overall.DeadlineMisses, us(sum.Overall.WorstViolation))))
	}
	for _, f := range sum.Skipped {
		fmt.Fprintf(w, "  %s could not process %s\n", ui.Yellow("⚠"), f)
	}
}

// PrintChecks writes the dependency check results, with the installation
// guide when a required check failed.
func PrintChecks(w io.Writer, res sysdeps.Result) {
	fmt.Fprintf(w, "%s\n", ui.BoldCyan("🔍 SCHED_DEADLINE toolkit dependencies"))
	for _, c := range res.Checks {
		fmt.Fprintf(w, "  %s %-8s %s\n", ui.CheckIcon(c.OK, c.Required), c.Name, c.Detail)
		if !c.OK && c.Install != "" {
			fmt.Fprintf(w, "             %s\n", ui.Dim("install: "+c.Install))
		}
	}
	fmt.Fprintln(w)
	if res.OK {
		fmt.Fprintf(w, "%s\n", ui.BoldGreen("✓ all required dependencies are available"))
		return
	}
	fmt.Fprintf(w, "%s\n\n", ui.BoldRed("✗ some required dependencies are missing"))
	fmt.Fprintf(w, "%s\n%s", ui.Bold("Installation guide"), sysdeps.InstallGuide)
}

// PrintBatch writes one line per analysed file and the tally.
func PrintBatch(w io.Writer, outcomes []batch.Outcome) {
	table := tablewriter.NewWriter(w)
	table.Header("File", "Tasks", "CPUs", "Verdict", "Report")
	for _, o := range outcomes {
		if o.Err != nil {
			_ = table.Append(o.Path, "-", "-", ui.Red("error"), o.Err.Error())
			continue
		}
		if o.Report == nil {
			_ = table.Append(o.Path, "-", "-", ui.Dim("not analysed"), "-")
			continue
		}
		_ = table.Append(
			o.Path,
			strconv.Itoa(o.Report.TaskCount),
			strconv.Itoa(o.Report.ProcessorCount),
			ui.VerdictLabel(o.Report.Verdict),
			o.Report.ID,
		)
	}
	if err := table.Render(); err != nil {
		fmt.Fprintf(w, "%s\n", ui.Red("could not render batch table: "+err.Error()))
	}

	t := batch.Count(outcomes)
	fmt.Fprintf(w, "Totals:  %s  %s  %s  %d files",
		ui.Green(fmt.Sprintf("%d schedulable", t.Schedulable)),
		ui.Yellow(fmt.Sprintf("%d inconclusive", t.Inconclusive)),
		ui.Red(fmt.Sprintf("%d failed", t.Failed)),
		t.Total)
	if t.Skipped > 0 {
		fmt.Fprintf(w, "  %s", ui.Dim(fmt.Sprintf("%d not analysed", t.Skipped)))
	}
	fmt.Fprintln(w)
}

// PrintHistory lists stored reports, newest first.
func PrintHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s\n", ui.Dim("No stored reports."))
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Created", "Source", "Tasks", "CPUs", "Verdict")
	for _, e := range entries {
		_ = table.Append(
			e.ID,
			humanize.Time(e.CreatedAt),
			e.Source,
			strconv.Itoa(e.TaskCount),
			strconv.Itoa(e.ProcessorCount),
			ui.VerdictLabel(e.Verdict),
		)
	}
	if err := table.Render(); err != nil {
		fmt.Fprintf(w, "%s\n", ui.Red("could not render history table: "+err.Error()))
	}
}
