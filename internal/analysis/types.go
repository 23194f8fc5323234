package analysis

// GFBResult holds the outcome of the Goossens-Funk-Baruah utilization test.
type GFBResult struct {
	TotalUtilization float64           `json:"total_utilization"`
	MaxUtilization   float64           `json:"max_utilization"`
	Bound            float64           `json:"bound"`
	Schedulable      bool              `json:"schedulable"`
	Utilizations     []TaskUtilization `json:"utilizations"` // input order
}

// TaskUtilization is the utilization of a single task.
type TaskUtilization struct {
	Task        string  `json:"task"`
	Utilization float64 `json:"utilization"`
}

// BCLTaskResult holds the Bertogna-Cirinei-Lipari check for one task k.
type BCLTaskResult struct {
	Task        string  `json:"task"`
	LambdaK     float64 `json:"lambda_k"`
	BetaSum     float64 `json:"beta_sum"`
	Bound       float64 `json:"bound"`
	Condition1  bool    `json:"condition1"`
	Condition2  bool    `json:"condition2"`
	Schedulable bool    `json:"schedulable"`

	// Betas maps every other task i to beta_i. Never contains Task itself.
	Betas map[string]float64 `json:"beta_details"`
}

// BCLResult holds the per-task BCL results for a whole taskset.
type BCLResult struct {
	Tasks       map[string]*BCLTaskResult `json:"tasks"`
	Order       []string                  `json:"order"`
	Schedulable bool                      `json:"schedulable"`
}

// Failing returns the names of tasks that did not pass, in input order.
func (r *BCLResult) Failing() []string {
	var out []string
	for _, name := range r.Order {
		if !r.Tasks[name].Schedulable {
			out = append(out, name)
		}
	}
	return out
}

// BCLOptions tune the BCL computation. The zero value runs sequentially
// with exact equality in condition 2.
type BCLOptions struct {
	// Workers shards the per-task loop across goroutines when > 1.
	Workers int
	// Tolerance is the absolute slack allowed when comparing beta_sum to
	// the bound in condition 2.
	Tolerance float64
}
