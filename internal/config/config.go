package config

import "runtime"

// AnalysisConfig holds the knobs of a schedulability check.
type AnalysisConfig struct {
	CPUs      int     // Processor count override; 0 derives it from the first task's affinity
	Workers   int     // Goroutines sharding the BCL loop (default GOMAXPROCS)
	Tolerance float64 // Absolute tolerance for the BCL equality condition (default 0, exact)
	Parallel  int     // Taskset files analysed concurrently by the batch runner
}

// DefaultAnalysisConfig returns sensible defaults.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Workers:  runtime.GOMAXPROCS(0),
		Parallel: 4,
	}
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr      string  // Listen address (default ":8080")
	LogLevel  string  // Log level: debug, info, warn, error
	LogFormat string  // Log format: text, json
	DBPath    string  // SQLite database path (default ~/.rt-audit/history.db, ":memory:" for testing)
	RateLimit float64 // Sustained analyze requests per second; 0 disables limiting
	RateBurst int     // Token bucket size
	MaxBody   int64   // Largest accepted taskset document in bytes
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		RateLimit: 10,
		RateBurst: 20,
		MaxBody:   4 << 20,
	}
}

// GeneratorConfig holds the parameters of a random taskset. Field names
// double as keys of a JSON or YAML config file.
type GeneratorConfig struct {
	CPUs           int     `json:"cpus" yaml:"cpus"`
	Tasks          int     `json:"tasks" yaml:"tasks"`
	MinPeriodMS    int     `json:"min_period" yaml:"min_period"`
	MaxPeriodMS    int     `json:"max_period" yaml:"max_period"`
	MaxUtil        float64 `json:"max_util" yaml:"max_util"`
	TotalUtil      float64 `json:"total_util" yaml:"total_util"` // 0 means 70% of capacity
	Output         string  `json:"output" yaml:"output"`
	SystemOverhead float64 `json:"system_overhead" yaml:"system_overhead"`
	LockPages      bool    `json:"lock_pages" yaml:"lock_pages"`
	Ftrace         string  `json:"ftrace" yaml:"ftrace"`
	EventType      string  `json:"event_type" yaml:"event_type"`
	Seed           int64   `json:"seed" yaml:"seed"` // 0 picks a time-based seed
}

// DefaultGeneratorConfig returns the defaults used for any parameter that
// neither the config file nor the command line sets.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinPeriodMS:    10,
		MaxPeriodMS:    100,
		MaxUtil:        0.8,
		Output:         "taskset.json",
		SystemOverhead: 0.02,
		LockPages:      true,
		Ftrace:         "none",
		EventType:      "runtime",
	}
}

// EffectiveTotalUtil resolves the total utilization target.
func (c GeneratorConfig) EffectiveTotalUtil() float64 {
	if c.TotalUtil > 0 {
		return c.TotalUtil
	}
	return 0.7 * float64(c.CPUs)
}
