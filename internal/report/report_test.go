package report

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/jlelli/rt-audit/internal/taskset"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCombine(t *testing.T) {
	tests := []struct {
		gfb, bcl bool
		want     Verdict
	}{
		{true, true, VerdictBoth},
		{true, false, VerdictGFBOnly},
		{false, true, VerdictBCLOnly},
		{false, false, VerdictInconclusive},
	}
	for _, tt := range tests {
		if got := Combine(tt.gfb, tt.bcl); got != tt.want {
			t.Errorf("Combine(%v, %v) = %s, want %s", tt.gfb, tt.bcl, got, tt.want)
		}
		if got := Combine(tt.gfb, tt.bcl).Schedulable(); got != (tt.gfb || tt.bcl) {
			t.Errorf("Combine(%v, %v).Schedulable() = %v", tt.gfb, tt.bcl, got)
		}
	}
}

func TestVerdict_NeverUnschedulable(t *testing.T) {
	desc := VerdictInconclusive.Describe()
	if strings.Contains(strings.ToLower(desc), "unschedulable") {
		t.Errorf("inconclusive verdict must not claim unschedulability: %q", desc)
	}
}

func TestGenerate_BothTests(t *testing.T) {
	tasks := make([]taskset.Task, 4)
	for i := range tasks {
		tasks[i] = taskset.Task{Name: string(rune('a' + i)), Runtime: 3000, Period: 10000, Deadline: 10000}
	}
	ts, err := taskset.New(tasks, 4)
	if err != nil {
		t.Fatalf("build taskset: %v", err)
	}

	r, err := Generate(ts, "scenario-b", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Verdict != VerdictBoth {
		t.Errorf("expected %s, got %s", VerdictBoth, r.Verdict)
	}
	if r.TaskCount != 4 || r.ProcessorCount != 4 {
		t.Errorf("expected 4 tasks on 4 cpus, got %d on %d", r.TaskCount, r.ProcessorCount)
	}
	if !strings.HasPrefix(r.ID, "audit-") || len(r.ID) != len("audit-")+36 {
		t.Errorf("expected audit-<uuid> report ID, got %q", r.ID)
	}
	if len(r.BCL.Tasks) != 4 {
		t.Errorf("expected per-task BCL detail for 4 tasks, got %d", len(r.BCL.Tasks))
	}
}

func TestGenerate_BCLOnly(t *testing.T) {
	// Two 0.9-utilization tasks on two cpus: GFB bound 2 - 0.9 = 1.1 < 1.8,
	// but each task sees beta_sum 0.1 < bound 0.2 under BCL.
	ts, err := taskset.New([]taskset.Task{
		{Name: "heavy_a", Runtime: 9, Period: 10, Deadline: 10},
		{Name: "heavy_b", Runtime: 9, Period: 10, Deadline: 10},
	}, 2)
	if err != nil {
		t.Fatalf("build taskset: %v", err)
	}

	r, err := Generate(ts, "scenario-d", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.GFB.Schedulable {
		t.Fatalf("expected GFB to fail (U=%v, bound=%v)", r.GFB.TotalUtilization, r.GFB.Bound)
	}
	for name, tr := range r.BCL.Tasks {
		if !tr.Condition1 {
			t.Errorf("task %s: expected condition1 to hold", name)
		}
	}
	if r.Verdict != VerdictBCLOnly {
		t.Errorf("expected %s, got %s", VerdictBCLOnly, r.Verdict)
	}
	if !r.Verdict.Schedulable() {
		t.Error("BCL-only verdict must count as schedulable")
	}
}

func TestGenerate_Inconclusive(t *testing.T) {
	tasks := make([]taskset.Task, 4)
	for i := range tasks {
		tasks[i] = taskset.Task{Name: string(rune('a' + i)), Runtime: 9, Period: 10, Deadline: 10}
	}
	ts, err := taskset.New(tasks, 2)
	if err != nil {
		t.Fatalf("build taskset: %v", err)
	}

	r, err := Generate(ts, "overloaded", Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Verdict != VerdictInconclusive {
		t.Errorf("expected inconclusive, got %s", r.Verdict)
	}
	if r.Failure != nil {
		t.Errorf("failing both tests is not a structural failure, got %+v", r.Failure)
	}
}

func TestAnalyze_SkipsZeroPeriod(t *testing.T) {
	doc := `{"tasks": {
		"audio": {"dl-runtime": 1000, "dl-period": 10000, "cpus": [0,1,2,3]},
		"broken": {"dl-runtime": 1000, "dl-period": 0, "cpus": [0,1,2,3]}
	}}`

	r, err := Analyze([]byte(doc), "mixed.json", Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TaskCount != 1 {
		t.Errorf("expected 1 analysed task, got %d", r.TaskCount)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Task != "broken" {
		t.Errorf("expected a warning for broken, got %v", r.Warnings)
	}
	if r.GFB.TotalUtilization != 0.1 {
		t.Errorf("expected U_total 0.1, got %v", r.GFB.TotalUtilization)
	}
	if _, ok := r.BCL.Tasks["broken"]; ok {
		t.Error("skipped task must not appear in BCL results")
	}
	if r.Verdict != VerdictBoth {
		t.Errorf("expected %s, got %s", VerdictBoth, r.Verdict)
	}
}

func TestAnalyze_SkipsOverflowingTiming(t *testing.T) {
	doc := `{"tasks": {
		"huge": {"dl-runtime": 1e400, "dl-period": 10000, "cpus": [0,1]},
		"ok": {"dl-runtime": 1000, "dl-period": 10000, "cpus": [0,1]}
	}}`

	r, err := Analyze([]byte(doc), "overflow.json", Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TaskCount != 1 || len(r.Warnings) != 1 || r.Warnings[0].Task != "huge" {
		t.Fatalf("expected huge to be skipped, got %d tasks, warnings %v", r.TaskCount, r.Warnings)
	}
	if math.IsInf(r.GFB.TotalUtilization, 0) || math.IsInf(r.GFB.Bound, 0) {
		t.Errorf("expected finite GFB figures, got U=%v bound=%v", r.GFB.TotalUtilization, r.GFB.Bound)
	}
	if _, err := json.Marshal(r); err != nil {
		t.Errorf("report must serialise: %v", err)
	}
}

func TestAnalyze_EmptyTasksetIsInconclusive(t *testing.T) {
	doc := `{"tasks": {"broken": {"dl-runtime": 1000, "dl-period": 0, "cpus": [0,1]}}}`

	r, err := Analyze([]byte(doc), "empty.json", Config{}, testLogger())
	if err != nil {
		t.Fatalf("empty taskset must not be a hard error, got %v", err)
	}
	if r.Verdict != VerdictInconclusive {
		t.Errorf("expected inconclusive, got %s", r.Verdict)
	}
	if r.Failure == nil || r.Failure.Kind != FailureEmptyTaskset {
		t.Fatalf("expected empty-taskset failure, got %+v", r.Failure)
	}
	if !errors.Is(r.Err(), taskset.ErrEmptyTaskset) {
		t.Errorf("expected Err() to be ErrEmptyTaskset, got %v", r.Err())
	}
	if r.GFB != nil || r.BCL != nil {
		t.Error("no analyzer results expected for an empty taskset")
	}
	if len(r.Warnings) != 1 {
		t.Errorf("expected the skipped-task warning to be kept, got %v", r.Warnings)
	}
}

func TestAnalyze_NoTasksObject(t *testing.T) {
	r, err := Analyze([]byte(`{"global": {}}`), "none.json", Config{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(r.Err(), taskset.ErrEmptyTaskset) {
		t.Errorf("expected ErrEmptyTaskset, got %v", r.Err())
	}
}

func TestAnalyze_ProcessorCountIsFatal(t *testing.T) {
	doc := `{"tasks": {"a": {"dl-runtime": 1000, "dl-period": 10000}}}`

	r, err := Analyze([]byte(doc), "nocpus.json", Config{}, testLogger())
	if !errors.Is(err, taskset.ErrProcessorCount) {
		t.Fatalf("expected ErrProcessorCount, got %v", err)
	}
	if r != nil {
		t.Errorf("expected no report, got %+v", r)
	}

	r, err = Analyze([]byte(doc), "nocpus.json", Config{CPUs: 2}, testLogger())
	if err != nil {
		t.Fatalf("override should resolve m, got %v", err)
	}
	if r.ProcessorCount != 2 {
		t.Errorf("expected 2 processors, got %d", r.ProcessorCount)
	}
}

func TestAnalyze_Exclude(t *testing.T) {
	// Three 0.6 tasks on two cpus fail GFB (1.8 > 1.4); without "c" they
	// pass (1.2 <= 1.4).
	doc := `{"tasks": {
		"a": {"dl-runtime": 6, "dl-period": 10, "cpus": [0,1]},
		"b": {"dl-runtime": 6, "dl-period": 10, "cpus": [0,1]},
		"c": {"dl-runtime": 6, "dl-period": 10, "cpus": [0,1]}
	}}`

	r, err := Analyze([]byte(doc), "three.json", Config{Exclude: []string{"c"}}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TaskCount != 2 || r.ProcessorCount != 2 {
		t.Errorf("expected 2 tasks on 2 cpus, got %d on %d", r.TaskCount, r.ProcessorCount)
	}
	if _, ok := r.BCL.Tasks["c"]; ok {
		t.Error("excluded task must not be analysed")
	}
	if !r.GFB.Schedulable {
		t.Errorf("expected GFB to pass without c (U=%v, bound=%v)", r.GFB.TotalUtilization, r.GFB.Bound)
	}

	r, err = Analyze([]byte(doc), "three.json", Config{Exclude: []string{"a", "b", "c"}}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(r.Err(), taskset.ErrEmptyTaskset) {
		t.Errorf("excluding every task should leave an empty taskset, got %v", r.Err())
	}
}

func TestAnalyze_InvalidJSON(t *testing.T) {
	if _, err := Analyze([]byte(`{`), "bad.json", Config{}, testLogger()); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestErr_NoFailure(t *testing.T) {
	r := &Report{Verdict: VerdictBoth}
	if r.Err() != nil {
		t.Errorf("expected nil error, got %v", r.Err())
	}
}
