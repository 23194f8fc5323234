// Package generator builds random SCHED_DEADLINE tasksets with UUniFast.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jlelli/rt-audit/internal/config"
	"github.com/jlelli/rt-audit/internal/rtapp"
)

// MaxAttempts bounds how often UUniFast is re-drawn to respect MaxUtil.
const MaxAttempts = 1000

// minWorkload is the smallest workload event written, in microseconds.
const minWorkload = 10

var (
	// ErrImpossible means the average per-task utilization already exceeds
	// the per-task cap.
	ErrImpossible = errors.New("impossible utilization constraint")
	// ErrExhausted means no draw within MaxAttempts respected the cap.
	ErrExhausted = errors.New("no valid utilization draw")
)

// UUniFast splits total into n utilizations drawn uniformly from the simplex.
func UUniFast(rng *rand.Rand, n int, total float64) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, n)
	sum := total
	for i := 1; i < n; i++ {
		next := sum * math.Pow(rng.Float64(), 1/float64(n-i))
		out = append(out, sum-next)
		sum = next
	}
	return append(out, sum)
}

// Result is a generated document plus what it took to draw it.
type Result struct {
	Document     *rtapp.Document
	Utilizations []float64
	Attempts     int
}

// Validate checks parameters that do not depend on randomness.
func Validate(cfg config.GeneratorConfig) error {
	switch {
	case cfg.CPUs < 1:
		return fmt.Errorf("cpus must be positive, got %d", cfg.CPUs)
	case cfg.Tasks < 1:
		return fmt.Errorf("tasks must be positive, got %d", cfg.Tasks)
	case cfg.MinPeriodMS < 1 || cfg.MaxPeriodMS < cfg.MinPeriodMS:
		return fmt.Errorf("period range [%d, %d] ms is invalid", cfg.MinPeriodMS, cfg.MaxPeriodMS)
	case cfg.MaxUtil <= 0:
		return fmt.Errorf("max_util must be positive, got %g", cfg.MaxUtil)
	case cfg.SystemOverhead < 0 || cfg.SystemOverhead >= 1:
		return fmt.Errorf("system_overhead must be in [0, 1), got %g", cfg.SystemOverhead)
	}

	total := cfg.EffectiveTotalUtil()
	if need := total / float64(cfg.Tasks); need > cfg.MaxUtil {
		return fmt.Errorf("%w: %d tasks sharing %.2f need %.3f each but max_util is %.3f; raise max_util, lower total_util to %.2f, or add tasks",
			ErrImpossible, cfg.Tasks, total, need, cfg.MaxUtil, cfg.MaxUtil*float64(cfg.Tasks))
	}
	return nil
}

// Generate draws a taskset. Each task gets a period picked uniformly in
// whole milliseconds from [MinPeriodMS, MaxPeriodMS], dl-runtime =
// floor(u*T), an implicit deadline and affinity over every cpu. The workload
// event is dl-runtime shrunk by the overhead, never below 10us.
func Generate(cfg config.GeneratorConfig, rng *rand.Rand) (*Result, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	total := cfg.EffectiveTotalUtil()

	var utils []float64
	attempts := 0
	for attempts < MaxAttempts {
		attempts++
		utils = UUniFast(rng, cfg.Tasks, total)
		if withinCap(utils, cfg.MaxUtil) {
			break
		}
		utils = nil
	}
	if utils == nil {
		return nil, fmt.Errorf("%w after %d attempts (max_util %.3f, total_util %.3f, tasks %d)",
			ErrExhausted, MaxAttempts, cfg.MaxUtil, total, cfg.Tasks)
	}

	global := rtapp.DefaultGlobal()
	global.LockPages = cfg.LockPages
	global.Ftrace = cfg.Ftrace
	doc := &rtapp.Document{Global: global}

	cpus := rtapp.CPURange(cfg.CPUs)
	for i, u := range utils {
		periodMS := cfg.MinPeriodMS + rng.Intn(cfg.MaxPeriodMS-cfg.MinPeriodMS+1)
		period := int64(periodMS) * 1000
		dlRuntime := int64(math.Floor(u * float64(period)))
		workload := max(int64(math.Floor(float64(dlRuntime)*(1-cfg.SystemOverhead))), minWorkload)

		doc.Tasks = append(doc.Tasks, rtapp.NamedTask{
			Name:   fmt.Sprintf("task_%d", i),
			Config: rtapp.PeriodicTask(i, dlRuntime, period, period, workload, append([]int(nil), cpus...), cfg.EventType),
		})
	}
	return &Result{Document: doc, Utilizations: utils, Attempts: attempts}, nil
}

func withinCap(utils []float64, limit float64) bool {
	for _, u := range utils {
		if u > limit {
			return false
		}
	}
	return true
}

// LoadConfig overlays a JSON or YAML parameter file onto base. Keys absent
// from the file keep base's values.
func LoadConfig(path string, base config.GeneratorConfig) (config.GeneratorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read generator config: %w", err)
	}
	// JSON documents are valid YAML, so one decoder serves both.
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse generator config %s: %w", path, err)
	}
	return cfg, nil
}
