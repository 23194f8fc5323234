package taskset

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTaskset is the parent of every structural taskset failure.
	ErrInvalidTaskset = errors.New("invalid taskset")

	// ErrEmptyTaskset means no valid task survived validation.
	ErrEmptyTaskset = fmt.Errorf("%w: no valid tasks", ErrInvalidTaskset)

	// ErrProcessorCount means the processor count could not be derived.
	ErrProcessorCount = fmt.Errorf("%w: cannot determine processor count", ErrInvalidTaskset)
)

// Task holds the timing parameters of one sporadic task. All three values
// share one time unit and are strictly positive.
type Task struct {
	Name     string  `json:"name"`
	Runtime  float64 `json:"runtime"`
	Period   float64 `json:"period"`
	Deadline float64 `json:"deadline"`
}

// Warning records a task skipped (or flagged) while building a taskset.
// Skipped is false for tasks that were kept despite the warning.
type Warning struct {
	Task    string `json:"task"`
	Reason  string `json:"reason"`
	Skipped bool   `json:"skipped"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Task, w.Reason)
}

// CountSkipped returns how many warnings describe a dropped task.
func CountSkipped(warnings []Warning) int {
	n := 0
	for _, w := range warnings {
		if w.Skipped {
			n++
		}
	}
	return n
}

// Taskset is an immutable, ordered collection of valid tasks and the
// processor count they are analysed against.
type Taskset struct {
	tasks    []Task
	index    map[string]int
	cpus     int
	warnings []Warning
}

// Options tune how raw tasks are turned into a Taskset.
type Options struct {
	// CPUs overrides the processor count derived from task affinity.
	CPUs int
}
