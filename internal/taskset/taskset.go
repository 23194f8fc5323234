package taskset

import (
	"fmt"
	"math"

	"github.com/jlelli/rt-audit/internal/rtapp"
)

// NewTask validates and builds a Task. A deadline of 0 means "implicit" and
// takes the period.
func NewTask(name string, runtime, period, deadline float64) (Task, error) {
	if deadline == 0 {
		deadline = period
	}
	switch {
	case name == "":
		return Task{}, fmt.Errorf("task name is empty")
	case !(runtime > 0):
		return Task{}, fmt.Errorf("dl-runtime must be positive, got %g", runtime)
	case !(period > 0):
		return Task{}, fmt.Errorf("dl-period must be positive, got %g", period)
	case !(deadline > 0):
		return Task{}, fmt.Errorf("dl-deadline must be positive, got %g", deadline)
	case math.IsInf(runtime, 0) || math.IsInf(period, 0) || math.IsInf(deadline, 0):
		return Task{}, fmt.Errorf("timing values must be finite (runtime %g, period %g, deadline %g)", runtime, period, deadline)
	}
	return Task{Name: name, Runtime: runtime, Period: period, Deadline: deadline}, nil
}

// Utilization is runtime over period.
func (t Task) Utilization() float64 {
	return t.Runtime / t.Period
}

// Density is runtime over relative deadline.
func (t Task) Density() float64 {
	return t.Runtime / t.Deadline
}

// New builds a Taskset from already-validated tasks.
func New(tasks []Task, cpus int) (*Taskset, error) {
	if cpus < 1 {
		return nil, ErrProcessorCount
	}
	if len(tasks) == 0 {
		return nil, ErrEmptyTaskset
	}

	ts := &Taskset{
		tasks: make([]Task, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
		cpus:  cpus,
	}
	for _, in := range tasks {
		t, err := NewTask(in.Name, in.Runtime, in.Period, in.Deadline)
		if err != nil {
			return nil, fmt.Errorf("%w: task %q: %v", ErrInvalidTaskset, in.Name, err)
		}
		if _, dup := ts.index[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task %q", ErrInvalidTaskset, t.Name)
		}
		ts.index[t.Name] = len(ts.tasks)
		ts.tasks = append(ts.tasks, t)
	}
	return ts, nil
}

// Build turns raw rt-app records into a Taskset. Invalid tasks are skipped
// and recorded as warnings; the processor count comes from the affinity list
// of the first raw task unless opts.CPUs overrides it.
//
// On ErrEmptyTaskset the returned Taskset is still non-nil so callers can
// report the warnings that emptied it.
func Build(raw []rtapp.RawTask, opts Options) (*Taskset, error) {
	ts := &Taskset{index: make(map[string]int)}

	fromAffinity := opts.CPUs <= 0
	switch {
	case !fromAffinity:
		ts.cpus = opts.CPUs
	case len(raw) > 0:
		ts.cpus = len(raw[0].CPUs)
	}
	if ts.cpus < 1 {
		return nil, ErrProcessorCount
	}

	for _, rt := range raw {
		task, reason := validate(rt)
		if reason != "" {
			ts.warnings = append(ts.warnings, Warning{Task: rt.Name, Reason: reason, Skipped: true})
			continue
		}
		if _, dup := ts.index[task.Name]; dup {
			ts.warnings = append(ts.warnings, Warning{Task: rt.Name, Reason: "duplicate task name", Skipped: true})
			continue
		}
		if fromAffinity && len(rt.CPUs) > 0 && len(rt.CPUs) != ts.cpus {
			ts.warnings = append(ts.warnings, Warning{
				Task:   rt.Name,
				Reason: fmt.Sprintf("affinity lists %d cpus; processor count %d taken from first task", len(rt.CPUs), ts.cpus),
			})
		}
		ts.index[task.Name] = len(ts.tasks)
		ts.tasks = append(ts.tasks, task)
	}

	if len(ts.tasks) == 0 {
		return ts, ErrEmptyTaskset
	}
	return ts, nil
}

func validate(rt rtapp.RawTask) (Task, string) {
	if len(rt.BadFields) > 0 {
		return Task{}, fmt.Sprintf("non-numeric %v", rt.BadFields)
	}
	if rt.Runtime == nil || rt.Period == nil {
		return Task{}, "missing dl-runtime or dl-period"
	}
	deadline := *rt.Period
	if rt.Deadline != nil {
		deadline = *rt.Deadline
		if deadline == 0 {
			return Task{}, "dl-deadline must be positive, got 0"
		}
	}
	task, err := NewTask(rt.Name, *rt.Runtime, *rt.Period, deadline)
	if err != nil {
		return Task{}, err.Error()
	}
	return task, ""
}

// Tasks returns a copy of the valid tasks in input order.
func (ts *Taskset) Tasks() []Task {
	if ts == nil {
		return nil
	}
	return append([]Task(nil), ts.tasks...)
}

// Len returns the number of valid tasks.
func (ts *Taskset) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.tasks)
}

// Get looks a task up by name.
func (ts *Taskset) Get(name string) (Task, bool) {
	if ts == nil {
		return Task{}, false
	}
	i, ok := ts.index[name]
	if !ok {
		return Task{}, false
	}
	return ts.tasks[i], true
}

// ProcessorCount returns m.
func (ts *Taskset) ProcessorCount() int {
	if ts == nil {
		return 0
	}
	return ts.cpus
}

// Warnings returns the validation warnings recorded by Build.
func (ts *Taskset) Warnings() []Warning {
	if ts == nil {
		return nil
	}
	return append([]Warning(nil), ts.warnings...)
}

// Filter returns a new Taskset containing only tasks matching the predicate.
// The processor count and warnings carry over; the result may be empty.
func (ts *Taskset) Filter(pred func(Task) bool) *Taskset {
	out := &Taskset{
		index:    make(map[string]int),
		cpus:     ts.cpus,
		warnings: ts.Warnings(),
	}
	for _, t := range ts.tasks {
		if pred(t) {
			out.index[t.Name] = len(out.tasks)
			out.tasks = append(out.tasks, t)
		}
	}
	return out
}
