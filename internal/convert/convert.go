// Package convert turns hand-written taskset descriptions (CSV or YAML) into
// rt-app workload documents.
package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jlelli/rt-audit/internal/rtapp"
)

// Format is an input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned by DetectFormat for unsupported extensions.
var ErrUnknownFormat = errors.New("unknown input format")

// Input is a human-friendly taskset description. Times are microseconds.
type Input struct {
	CPUs           int         `yaml:"cpus"`
	Duration       int         `yaml:"duration"`
	LockPages      bool        `yaml:"lock_pages"`
	Ftrace         string      `yaml:"ftrace"`
	SystemOverhead float64     `yaml:"system_overhead"`
	EventType      string      `yaml:"event_type"`
	Tasks          []InputTask `yaml:"tasks"`
}

// InputTask is one task of an Input. Runtime is the work the task really needs;
// a zero Deadline means implicit (equal to Period).
type InputTask struct {
	Name     string `yaml:"name"`
	Runtime  int64  `yaml:"runtime"`
	Period   int64  `yaml:"period"`
	Deadline int64  `yaml:"deadline,omitempty"`
}

// DefaultInput returns an Input with every global field at its default.
func DefaultInput() *Input {
	return &Input{
		CPUs:           4,
		Duration:       30,
		LockPages:      true,
		Ftrace:         "none",
		SystemOverhead: 0.02,
		EventType:      rtapp.EventRuntime,
	}
}

// DetectFormat picks the input format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s (use .csv, .yaml or .yml)", ErrUnknownFormat, path)
}

// Load reads and parses a CSV or YAML taskset description.
func Load(path string) (*Input, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if format == FormatCSV {
		return FromCSV(f)
	}
	return FromYAML(f)
}

// FromCSV parses rows of task_name,runtime_us,period_us[,deadline_us].
// Global settings take their defaults.
func FromCSV(r io.Reader) (*Input, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"task_name", "runtime_us", "period_us"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", required)
		}
	}

	input := DefaultInput()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		task := InputTask{Name: field("task_name")}
		if task.Runtime, err = parseMicros(field("runtime_us")); err != nil {
			return nil, fmt.Errorf("line %d: runtime_us: %w", line, err)
		}
		if task.Period, err = parseMicros(field("period_us")); err != nil {
			return nil, fmt.Errorf("line %d: period_us: %w", line, err)
		}
		if d := field("deadline_us"); d != "" {
			if task.Deadline, err = parseMicros(d); err != nil {
				return nil, fmt.Errorf("line %d: deadline_us: %w", line, err)
			}
		}
		input.Tasks = append(input.Tasks, task)
	}
	return input, nil
}

func parseMicros(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("missing value")
	}
	return strconv.ParseInt(s, 10, 64)
}

// FromYAML parses a YAML description. Absent global keys keep their defaults.
func FromYAML(r io.Reader) (*Input, error) {
	input := DefaultInput()
	if err := yaml.NewDecoder(r).Decode(input); err != nil {
		if errors.Is(err, io.EOF) {
			return input, nil
		}
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return input, nil
}

// ToRTApp renders the input as an rt-app document. The workload event keeps
// the real runtime while dl-runtime is scaled up to absorb system overhead:
//
//	dl-runtime = max(int(runtime / (1 - overhead)), runtime + 10)
//
// Unnamed tasks are called task_<i>.
func ToRTApp(input *Input) (*rtapp.Document, error) {
	if input.CPUs < 1 {
		return nil, fmt.Errorf("cpus must be positive, got %d", input.CPUs)
	}
	if input.SystemOverhead < 0 || input.SystemOverhead >= 1 {
		return nil, fmt.Errorf("system_overhead must be in [0, 1), got %g", input.SystemOverhead)
	}
	if len(input.Tasks) == 0 {
		return nil, rtapp.ErrNoTasks
	}

	global := rtapp.DefaultGlobal()
	global.Duration = input.Duration
	global.LockPages = input.LockPages
	global.Ftrace = input.Ftrace
	doc := &rtapp.Document{Global: global}

	seen := make(map[string]bool, len(input.Tasks))
	for i, t := range input.Tasks {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("task_%d", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate task name %q", name)
		}
		seen[name] = true

		deadline := t.Deadline
		if deadline == 0 {
			deadline = t.Period
		}
		doc.Tasks = append(doc.Tasks, rtapp.NamedTask{
			Name: name,
			Config: rtapp.PeriodicTask(i, ScaleRuntime(t.Runtime, input.SystemOverhead),
				t.Period, deadline, t.Runtime, rtapp.CPURange(input.CPUs), input.EventType),
		})
	}
	return doc, nil
}

// ScaleRuntime inflates a runtime budget by the overhead fraction, adding at
// least 10us.
func ScaleRuntime(runtime int64, overhead float64) int64 {
	if overhead <= 0 {
		return runtime
	}
	return max(int64(float64(runtime)/(1-overhead)), runtime+10)
}
