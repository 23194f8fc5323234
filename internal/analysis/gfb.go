package analysis

import (
	"github.com/jlelli/rt-audit/internal/taskset"
)

// CheckGFB applies the GFB test: the taskset is schedulable under global EDF
// on m processors if U_total <= m - (m-1) * U_max.
func CheckGFB(ts *taskset.Taskset) (GFBResult, error) {
	if ts.ProcessorCount() < 1 {
		return GFBResult{}, taskset.ErrProcessorCount
	}
	tasks := ts.Tasks()
	if len(tasks) == 0 {
		return GFBResult{}, taskset.ErrEmptyTaskset
	}

	res := GFBResult{Utilizations: make([]TaskUtilization, 0, len(tasks))}
	for _, t := range tasks {
		u := t.Utilization()
		res.TotalUtilization += u
		if u > res.MaxUtilization {
			res.MaxUtilization = u
		}
		res.Utilizations = append(res.Utilizations, TaskUtilization{Task: t.Name, Utilization: u})
	}

	res.Bound = GFBBound(ts.ProcessorCount(), res.MaxUtilization)
	res.Schedulable = res.TotalUtilization <= res.Bound
	return res, nil
}

// GFBBound returns m - (m-1) * maxU. For m = 1 it is exactly 1.
func GFBBound(m int, maxU float64) float64 {
	return float64(m) - float64(m-1)*maxU
}
