package convert

import (
	"errors"
	"strings"
	"testing"

	"github.com/jlelli/rt-audit/internal/rtapp"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"tasks.csv", FormatCSV, false},
		{"tasks.YAML", FormatYAML, false},
		{"dir/tasks.yml", FormatYAML, false},
		{"tasks.json", "", true},
		{"tasks", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("DetectFormat(%q): expected ErrUnknownFormat, got %v", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
}

func TestFromCSV(t *testing.T) {
	in := `task_name,runtime_us,period_us,deadline_us
audio_task,1000,10000,10000
control_task,500,5000,4000
network_task,2000,15000,
`
	input, err := FromCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.CPUs != 4 || input.SystemOverhead != 0.02 {
		t.Errorf("expected default globals, got %+v", input)
	}
	if len(input.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(input.Tasks))
	}
	if input.Tasks[1].Deadline != 4000 {
		t.Errorf("expected control_task deadline 4000, got %d", input.Tasks[1].Deadline)
	}
	if input.Tasks[2].Deadline != 0 {
		t.Errorf("expected empty deadline to stay implicit, got %d", input.Tasks[2].Deadline)
	}
}

func TestFromCSV_NoDeadlineColumn(t *testing.T) {
	input, err := FromCSV(strings.NewReader("task_name,runtime_us,period_us\na,1,10\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(input.Tasks) != 1 || input.Tasks[0].Period != 10 {
		t.Errorf("unexpected tasks %+v", input.Tasks)
	}
}

func TestFromCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing column", "task_name,runtime_us\na,1\n"},
		{"bad runtime", "task_name,runtime_us,period_us\na,fast,10\n"},
		{"missing period", "task_name,runtime_us,period_us\na,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromCSV(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFromYAML_Defaults(t *testing.T) {
	in := `cpus: 2
event_type: run
tasks:
  - name: a
    runtime: 1000
    period: 10000
  - runtime: 500
    period: 5000
    deadline: 4000
`
	input, err := FromYAML(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.CPUs != 2 || input.EventType != "run" {
		t.Errorf("expected overrides to apply, got %+v", input)
	}
	if input.Duration != 30 || !input.LockPages || input.Ftrace != "none" {
		t.Errorf("expected absent keys to keep defaults, got %+v", input)
	}
	if len(input.Tasks) != 2 || input.Tasks[1].Deadline != 4000 {
		t.Errorf("unexpected tasks %+v", input.Tasks)
	}
}

func TestFromYAML_Invalid(t *testing.T) {
	if _, err := FromYAML(strings.NewReader("tasks: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestScaleRuntime(t *testing.T) {
	tests := []struct {
		runtime  int64
		overhead float64
		want     int64
	}{
		{1000, 0.02, 1020},
		{100, 0.02, 110}, // floor of +10us wins over 102
		{1000, 0, 1000},
		{1000, 0.5, 2000},
	}
	for _, tt := range tests {
		if got := ScaleRuntime(tt.runtime, tt.overhead); got != tt.want {
			t.Errorf("ScaleRuntime(%d, %v) = %d, want %d", tt.runtime, tt.overhead, got, tt.want)
		}
	}
}

func TestToRTApp(t *testing.T) {
	input := DefaultInput()
	input.CPUs = 2
	input.Tasks = []InputTask{
		{Name: "audio_task", Runtime: 1000, Period: 10000},
		{Runtime: 500, Period: 5000, Deadline: 4000},
	}

	doc, err := ToRTApp(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(doc.Tasks))
	}
	if doc.Tasks[1].Name != "task_1" {
		t.Errorf("expected unnamed task to become task_1, got %s", doc.Tasks[1].Name)
	}

	audio := doc.Tasks[0].Config
	if audio.Runtime != 1020 || audio.Deadline != 10000 {
		t.Errorf("expected dl-runtime 1020 and implicit deadline, got %+v", audio)
	}
	if len(audio.CPUs) != 2 {
		t.Errorf("expected full affinity over 2 cpus, got %v", audio.CPUs)
	}
	phase := audio.Phases["phase_0"]
	if phase.Runtime == nil || *phase.Runtime != 1000 {
		t.Errorf("expected workload event to keep the real runtime, got %+v", phase)
	}
	if doc.Global.Duration != 30 || doc.Global.DefaultPolicy != "SCHED_DEADLINE" {
		t.Errorf("unexpected global %+v", doc.Global)
	}
}

func TestToRTApp_Errors(t *testing.T) {
	empty := DefaultInput()
	if _, err := ToRTApp(empty); !errors.Is(err, rtapp.ErrNoTasks) {
		t.Errorf("expected ErrNoTasks, got %v", err)
	}

	overhead := DefaultInput()
	overhead.SystemOverhead = 1
	overhead.Tasks = []InputTask{{Name: "a", Runtime: 1, Period: 10}}
	if _, err := ToRTApp(overhead); err == nil {
		t.Error("expected error for overhead of 100%")
	}

	dup := DefaultInput()
	dup.Tasks = []InputTask{{Name: "a", Runtime: 1, Period: 10}, {Name: "a", Runtime: 1, Period: 10}}
	if _, err := ToRTApp(dup); err == nil {
		t.Error("expected error for duplicate names")
	}
}

func TestWriteExamples_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteExamples(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 example files, got %v", paths)
	}
	for _, p := range paths {
		input, err := Load(p)
		if err != nil {
			t.Fatalf("load %s: %v", p, err)
		}
		doc, err := ToRTApp(input)
		if err != nil {
			t.Fatalf("convert %s: %v", p, err)
		}
		if _, err := rtapp.Marshal(doc); err != nil {
			t.Fatalf("marshal %s: %v", p, err)
		}
	}
}
