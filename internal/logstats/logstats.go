// Package logstats summarises the per-thread logs rt-app writes while a
// taskset runs: deadline misses, slack and wakeup latency.
package logstats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrNoLogs means no file in the directory matched the log name pattern.
	ErrNoLogs = errors.New("no rt-app log files found")
	// ErrNoData means log files were found but none could be parsed.
	ErrNoData = errors.New("no valid task data in log files")
)

// DefaultBasename is the log_basename written into generated workloads.
const DefaultBasename = "taskset_log"

// Log holds the columns of one rt-app log that the summary needs.
type Log struct {
	Slack         []float64
	WakeupLatency []float64
}

// Stats describes a sample: count, min, mean, max, sample standard
// deviation and linearly interpolated 95th/99th percentiles.
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Std   float64 `json:"std"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// TaskStats is the summary of one task (or of the whole run).
type TaskStats struct {
	Task           string   `json:"task"`
	Files          []string `json:"files,omitempty"`
	DeadlineMisses int      `json:"deadline_misses"`
	WorstViolation float64  `json:"worst_slack_violation_us"` // most negative slack, 0 when no miss
	Slack          Stats    `json:"slack_us"`
	WakeupLatency  Stats    `json:"wakeup_latency_us"`
}

// Summary is the result of AnalyzeDir. Tasks are sorted by name.
type Summary struct {
	Dir     string      `json:"dir"`
	Tasks   []TaskStats `json:"tasks"`
	Overall TaskStats   `json:"overall"`
	Skipped []string    `json:"skipped,omitempty"`
}

// ParseLog reads a whitespace-separated rt-app log whose header line starts
// with "#idx" and extracts the slack and wu_lat columns.
func ParseLog(r io.Reader) (*Log, error) {
	sc := bufio.NewScanner(r)
	slackCol, latCol := -1, -1
	out := &Log{}

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if slackCol < 0 {
			if !strings.HasPrefix(fields[0], "#") {
				continue
			}
			for i, f := range fields {
				switch f {
				case "slack":
					slackCol = i
				case "wu_lat":
					latCol = i
				}
			}
			if slackCol < 0 || latCol < 0 {
				return nil, fmt.Errorf("line %d: header lacks slack or wu_lat column", line)
			}
			continue
		}
		if strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) <= max(slackCol, latCol) {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(slackCol, latCol)+1, len(fields))
		}
		slack, err := strconv.ParseFloat(fields[slackCol], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: slack: %w", line, err)
		}
		lat, err := strconv.ParseFloat(fields[latCol], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: wu_lat: %w", line, err)
		}
		out.Slack = append(out.Slack, slack)
		out.WakeupLatency = append(out.WakeupLatency, lat)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if slackCol < 0 {
		return nil, errors.New("no #idx header found")
	}
	return out, nil
}

// AnalyzeDir summarises every <basename>-task_<n>-<k>.log in dir. Several
// files of the same task are merged. Unreadable files are skipped and
// logged.
func AnalyzeDir(dir, basename string, logger *slog.Logger) (*Summary, error) {
	if basename == "" {
		basename = DefaultBasename
	}
	matches, err := filepath.Glob(filepath.Join(dir, basename+"-task_*-*.log"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoLogs, dir)
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(basename) + `-(task_\d+)-\d+\.log$`)

	merged := make(map[string]*Log)
	files := make(map[string][]string)
	sum := &Summary{Dir: dir}
	for _, path := range matches {
		m := pattern.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			continue
		}
		log, err := parseFile(path)
		if err != nil {
			logger.Warn("could not process log file", "file", path, "error", err)
			sum.Skipped = append(sum.Skipped, path)
			continue
		}
		task := m[1]
		if merged[task] == nil {
			merged[task] = &Log{}
		}
		merged[task].Slack = append(merged[task].Slack, log.Slack...)
		merged[task].WakeupLatency = append(merged[task].WakeupLatency, log.WakeupLatency...)
		files[task] = append(files[task], path)
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoData, dir)
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	slices.Sort(names)

	all := &Log{}
	for _, name := range names {
		l := merged[name]
		ts := summarize(name, l)
		ts.Files = files[name]
		sum.Tasks = append(sum.Tasks, ts)
		all.Slack = append(all.Slack, l.Slack...)
		all.WakeupLatency = append(all.WakeupLatency, l.WakeupLatency...)
	}
	sum.Overall = summarize("overall", all)
	return sum, nil
}

func parseFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLog(f)
}

func summarize(name string, l *Log) TaskStats {
	ts := TaskStats{Task: name}
	for _, s := range l.Slack {
		if s < 0 {
			ts.DeadlineMisses++
			ts.WorstViolation = math.Min(ts.WorstViolation, s)
		}
	}
	ts.Slack = Describe(l.Slack)
	ts.WakeupLatency = Describe(l.WakeupLatency)
	return ts
}

// Describe computes Stats for values. The standard deviation uses n-1 and is
// 0 for fewer than two samples.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	n := len(sorted)
	mean := total / float64(n)

	var std float64
	if n > 1 {
		var variance float64
		for _, v := range sorted {
			d := v - mean
			variance += d * d
		}
		std = math.Sqrt(variance / float64(n-1))
	}

	return Stats{
		Count: n,
		Min:   sorted[0],
		Mean:  mean,
		Max:   sorted[n-1],
		Std:   std,
		P95:   Percentile(sorted, 0.95),
		P99:   Percentile(sorted, 0.99),
	}
}

// Percentile returns the p-quantile (0..1) of sorted values, interpolating
// linearly between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
