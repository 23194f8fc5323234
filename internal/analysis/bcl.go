package analysis

import (
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/jlelli/rt-audit/internal/taskset"
)

// CheckBCL applies the BCL test to every task. Task k passes if
//
//	sum_{i != k} min(beta_i, 1 - lambda_k) <  m(1 - lambda_k), or
//	sum_{i != k} min(beta_i, 1 - lambda_k) == m(1 - lambda_k) and
//	  some i != k has 0 < beta_i <= 1 - lambda_k
//
// The taskset passes if every task passes.
func CheckBCL(ts *taskset.Taskset, opts BCLOptions) (*BCLResult, error) {
	if ts.ProcessorCount() < 1 {
		return nil, taskset.ErrProcessorCount
	}
	tasks := ts.Tasks()
	if len(tasks) == 0 {
		return nil, taskset.ErrEmptyTaskset
	}
	m := float64(ts.ProcessorCount())

	// Each slot is written by exactly one worker; no locking needed.
	results := make([]*BCLTaskResult, len(tasks))

	if opts.Workers <= 1 || len(tasks) == 1 {
		for k := range tasks {
			results[k] = checkTask(tasks, k, m, opts.Tolerance)
		}
	} else {
		shards := min(opts.Workers, len(tasks))
		size := (len(tasks) + shards - 1) / shards

		var g errgroup.Group
		for lo := 0; lo < len(tasks); lo += size {
			hi := min(lo+size, len(tasks))
			g.Go(func() error {
				for k := lo; k < hi; k++ {
					results[k] = checkTask(tasks, k, m, opts.Tolerance)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := &BCLResult{
		Tasks:       make(map[string]*BCLTaskResult, len(tasks)),
		Order:       make([]string, 0, len(tasks)),
		Schedulable: true,
	}
	for _, r := range results {
		out.Tasks[r.Task] = r
		out.Order = append(out.Order, r.Task)
		if !r.Schedulable {
			out.Schedulable = false
		}
	}
	return out, nil
}

// checkTask evaluates the BCL conditions for tasks[k].
func checkTask(tasks []taskset.Task, k int, m, tolerance float64) *BCLTaskResult {
	tk := tasks[k]
	lambda := tk.Density()
	slack := 1 - lambda

	r := &BCLTaskResult{
		Task:    tk.Name,
		LambdaK: lambda,
		Betas:   make(map[string]float64, len(tasks)-1),
	}

	carryIn := false
	for i, ti := range tasks {
		if i == k {
			continue
		}
		beta := interference(tk.Deadline, ti)
		r.Betas[ti.Name] = beta
		r.BetaSum += math.Min(beta, slack)
		if beta > 0 && beta <= slack {
			carryIn = true
		}
	}

	r.Bound = m * slack
	r.Condition1 = r.BetaSum < r.Bound
	r.Condition2 = approxEqual(r.BetaSum, r.Bound, tolerance) && carryIn
	// With runtime above the deadline the bound is negative and the
	// conditions no longer imply anything; such a task never passes.
	r.Schedulable = lambda <= 1 && (r.Condition1 || r.Condition2)
	return r
}

// interference returns beta_i: the normalised worst-case workload task i can
// execute inside a window of length dk.
//
//	N_i    = floor(dk / T_i)
//	beta_i = (N_i*C_i + min(C_i, max(0, dk - N_i*T_i))) / dk
func interference(dk float64, ti taskset.Task) float64 {
	n := math.Floor(dk / ti.Period)
	rem := math.Max(0, dk-n*ti.Period)
	return (n*ti.Runtime + math.Min(ti.Runtime, rem)) / dk
}

// approxEqual compares with an absolute tolerance; tolerance 0 is exact.
func approxEqual(a, b, tolerance float64) bool {
	if tolerance <= 0 {
		return a == b
	}
	return math.Abs(a-b) <= tolerance
}
