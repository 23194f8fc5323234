package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jlelli/rt-audit/internal/report"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintLogo renders the colored rt-audit logo.
func PrintLogo(w io.Writer) {
	frame := color.New(color.FgCyan)
	ticks := color.New(color.FgYellow)
	axis := color.New(color.FgCyan, color.Faint)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +--------------------------+")
	ticks.Fprintln(w, "   |  ▮▮   ▮    ▮▮▮  ▮   ▮▮   |")
	axis.Fprintln(w, "   |--+----+----+----+----+---|")
	brand.Fprintln(w, "   |   R  T  -  A  U  D  I  T |")
	frame.Fprintln(w, "   +--------------------------+")
	tag.Fprintf(w, "   %s Global EDF schedulability audit\n", Dim("⏱"))
	fmt.Fprintln(w)
}

// taskColors is a palette of distinct bold colors for differentiating tasks.
var taskColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// taskColorIndex hashes a task name to a palette index.
func taskColorIndex(name string) int {
	var h uint32
	for _, c := range name {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(taskColors)))
}

// TaskPrefix returns a colored [name] prefix string.
// Each task name gets a stable color from the palette.
func TaskPrefix(name string) string {
	c := taskColors[taskColorIndex(name)]
	return Dim("[") + c(name) + Dim("]")
}

// PassIcon returns a colored pass/fail icon for compact table display.
func PassIcon(ok bool) string {
	if ok {
		return Green("✓")
	}
	return Red("✗")
}

// CheckIcon renders a dependency check: required failures are errors,
// advisory ones only warnings.
func CheckIcon(ok, required bool) string {
	switch {
	case ok:
		return Green("✓")
	case required:
		return Red("✗")
	default:
		return Yellow("⚠")
	}
}

// VerdictLabel returns a colored label for a combined verdict.
func VerdictLabel(v report.Verdict) string {
	switch v {
	case report.VerdictBoth:
		return BoldGreen("SCHEDULABLE (GFB + BCL)")
	case report.VerdictGFBOnly:
		return BoldGreen("SCHEDULABLE (GFB only)")
	case report.VerdictBCLOnly:
		return BoldGreen("SCHEDULABLE (BCL only)")
	default:
		return BoldYellow("INCONCLUSIVE")
	}
}
