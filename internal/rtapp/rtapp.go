package rtapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoTasks is returned when a document has no "tasks" entries.
	ErrNoTasks = errors.New("no tasks found")
	// ErrInvalidJSON is returned when a document is not well-formed JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
)

// RawTask is one entry of an rt-app "tasks" object as it appears on disk.
// Numeric fields stay nil when absent so validation can tell "missing"
// apart from "zero".
type RawTask struct {
	Name     string
	Runtime  *float64
	Period   *float64
	Deadline *float64
	CPUs     []int

	// BadFields lists fields that were present but not numbers.
	BadFields []string
}

// ParseTasks reads the "tasks" object of an rt-app JSON document.
// Tasks are returned in document order; the processor count of a taskset is
// derived from the first one, so order matters.
func ParseTasks(data []byte) ([]RawTask, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse taskset: %w", ErrInvalidJSON)
	}

	tasks := gjson.GetBytes(data, "tasks")
	if !tasks.Exists() || !tasks.IsObject() {
		return nil, ErrNoTasks
	}

	var out []RawTask
	tasks.ForEach(func(key, value gjson.Result) bool {
		rt := RawTask{Name: key.String()}
		rt.Runtime = rt.number(value, "dl-runtime")
		rt.Period = rt.number(value, "dl-period")
		rt.Deadline = rt.number(value, "dl-deadline")

		if cpus := value.Get("cpus"); cpus.IsArray() {
			for _, c := range cpus.Array() {
				rt.CPUs = append(rt.CPUs, int(c.Int()))
			}
		}
		out = append(out, rt)
		return true
	})

	if len(out) == 0 {
		return nil, ErrNoTasks
	}
	return out, nil
}

func (rt *RawTask) number(v gjson.Result, field string) *float64 {
	f := v.Get(field)
	if !f.Exists() || f.Type == gjson.Null {
		return nil
	}
	if f.Type != gjson.Number {
		rt.BadFields = append(rt.BadFields, field)
		return nil
	}
	n := f.Float()
	return &n
}

// Float is a convenience for building RawTask literals.
func Float(v float64) *float64 {
	return &v
}

// Document is an rt-app workload description.
type Document struct {
	Global Global
	Tasks  []NamedTask
}

// NamedTask pairs a task configuration with its key in the "tasks" object.
type NamedTask struct {
	Name   string
	Config TaskConfig
}

// Global holds the rt-app "global" section.
type Global struct {
	Duration      int    `json:"duration"`
	DefaultPolicy string `json:"default_policy"`
	LogBasename   string `json:"log_basename"`
	LockPages     bool   `json:"lock_pages"`
	Ftrace        string `json:"ftrace"`
}

// TaskConfig is a single SCHED_DEADLINE task entry.
type TaskConfig struct {
	Policy   string           `json:"policy"`
	Runtime  int64            `json:"dl-runtime"`
	Period   int64            `json:"dl-period"`
	Deadline int64            `json:"dl-deadline"`
	CPUs     []int            `json:"cpus"`
	Phases   map[string]Phase `json:"phases"`
}

// Phase is a looping phase. rt-app requires the workload event to come
// before the timer, which the field order guarantees.
type Phase struct {
	Loop    int    `json:"loop"`
	Run     *int64 `json:"run,omitempty"`
	Runtime *int64 `json:"runtime,omitempty"`
	Timer   Timer  `json:"timer"`
}

// Timer is the periodic timer event of a phase.
type Timer struct {
	Ref    string `json:"ref"`
	Period int64  `json:"period"`
	Mode   string `json:"mode"`
}

// DefaultGlobal returns the global section used for generated workloads.
func DefaultGlobal() Global {
	return Global{
		Duration:      30,
		DefaultPolicy: "SCHED_DEADLINE",
		LogBasename:   "taskset_log",
		LockPages:     true,
		Ftrace:        "none",
	}
}

// Marshal renders the document as indented JSON, keeping task order.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer

	global, err := json.Marshal(doc.Global)
	if err != nil {
		return nil, fmt.Errorf("marshal global: %w", err)
	}
	buf.WriteString(`{"global":`)
	buf.Write(global)
	buf.WriteString(`,"tasks":{`)
	for i, t := range doc.Tasks {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(t.Name)
		if err != nil {
			return nil, err
		}
		cfg, err := json.Marshal(t.Config)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", t.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(cfg)
	}
	buf.WriteString(`}}`)

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// RawTasks converts the document back into raw records for analysis.
func (doc *Document) RawTasks() []RawTask {
	out := make([]RawTask, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		out = append(out, RawTask{
			Name:     t.Name,
			Runtime:  Float(float64(t.Config.Runtime)),
			Period:   Float(float64(t.Config.Period)),
			Deadline: Float(float64(t.Config.Deadline)),
			CPUs:     append([]int(nil), t.Config.CPUs...),
		})
	}
	return out
}

// CPURange returns the affinity list [0, n).
func CPURange(n int) []int {
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// Workload event types of a periodic phase.
const (
	EventRun     = "run"     // calibrated loops; scales with CPU frequency
	EventRuntime = "runtime" // wall-clock execution
)

// PeriodicTask builds the SCHED_DEADLINE entry of the index-th task: one
// endlessly looping phase holding the workload event and then an absolute
// timer at the task period. Unknown event types fall back to EventRuntime.
func PeriodicTask(index int, dlRuntime, period, deadline, workload int64, cpus []int, event string) TaskConfig {
	phase := Phase{
		Loop:  -1,
		Timer: Timer{Ref: "unique", Period: period, Mode: "absolute"},
	}
	w := workload
	if event == EventRun {
		phase.Run = &w
	} else {
		phase.Runtime = &w
	}
	return TaskConfig{
		Policy:   "SCHED_DEADLINE",
		Runtime:  dlRuntime,
		Period:   period,
		Deadline: deadline,
		CPUs:     cpus,
		Phases:   map[string]Phase{fmt.Sprintf("phase_%d", index): phase},
	}
}
