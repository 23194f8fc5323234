package convert

import (
	"fmt"
	"os"
	"path/filepath"
)

var examples = []struct {
	name, content string
}{
	{"example_taskset.csv", `task_name,runtime_us,period_us,deadline_us
audio_task,1000,10000,10000
video_task,5000,20000,20000
control_task,500,5000,4000
network_task,2000,15000,15000
`},
	{"example_runtime.yaml", `# Time-based workload events: consistent timing regardless of CPU frequency.
cpus: 4
duration: 30
lock_pages: true
ftrace: "none"
system_overhead: 0.02
event_type: "runtime"
tasks:
  - name: "audio_task"
    runtime: 1000
    period: 10000
    deadline: 10000

  - name: "video_task"
    runtime: 5000
    period: 20000

  - name: "control_task"
    runtime: 500
    period: 5000
    deadline: 4000

  - name: "network_task"
    runtime: 2000
    period: 15000
`},
	{"example_run.yaml", `# Calibrated workload events: execution time varies with CPU frequency.
cpus: 4
duration: 30
lock_pages: true
ftrace: "run,loop,stats"
system_overhead: 0.02
event_type: "run"
tasks:
  - name: "cpu_intensive_task"
    runtime: 2000
    period: 8000

  - name: "io_bound_task"
    runtime: 500
    period: 12000
`},
}

// WriteExamples writes sample CSV and YAML inputs into dir and returns the
// paths written.
func WriteExamples(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(examples))
	for _, ex := range examples {
		p := filepath.Join(dir, ex.name)
		if err := os.WriteFile(p, []byte(ex.content), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
