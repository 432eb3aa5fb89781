package finding

import (
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

// Status is the overall outcome of a run.
type Status string

// Run statuses
const (
	StatusFullySucceeded     Status = "fully_succeeded"
	StatusPartiallySucceeded Status = "partially_succeeded"
	StatusFailedToStart      Status = "failed_to_start"
)

// TaskFailure names a failed or skipped task and why.
type TaskFailure struct {
	TaskName string   `json:"task_name"`
	PolicyID string   `json:"policy_id"`
	Reasons  []string `json:"reasons"`
}

// Aggregate is the final response of a run. Findings are ordered by layer,
// then by name, whatever order the tasks completed in.
type Aggregate struct {
	RequestID string        `json:"request_id"`
	Status    Status        `json:"status"`
	PlanHash  string        `json:"plan_hash,omitempty"`
	Layers    [][]string    `json:"layers"`
	Findings  []Finding     `json:"findings"`
	Succeeded []string      `json:"succeeded"`
	Failed    []TaskFailure `json:"failed"`
	Skipped   []TaskFailure `json:"skipped"`
	// Error is the run-level error, if the run ended on one.
	Error string `json:"error,omitempty"`
}

// NewAggregate merges the findings of a compiled run. A run that compiled
// is never failed_to_start, even if nothing succeeded.
func NewAggregate(requestID, planHash string, layers [][]string, store *Store, runErr string) Aggregate {
	agg := Aggregate{
		RequestID: requestID,
		Status:    StatusFullySucceeded,
		PlanHash:  planHash,
		Layers:    layers,
		Findings:  []Finding{},
		Succeeded: []string{},
		Failed:    []TaskFailure{},
		Skipped:   []TaskFailure{},
		Error:     runErr,
	}

	for _, layer := range layers {
		for _, name := range layer {
			f, ok := store.Get(name)
			if !ok {
				agg.Status = StatusPartiallySucceeded
				continue
			}
			agg.Findings = append(agg.Findings, f)

			switch f.State {
			case plan.StateSucceeded:
				agg.Succeeded = append(agg.Succeeded, name)
			case plan.StateSkipped:
				agg.Skipped = append(agg.Skipped, failureOf(f))
				agg.Status = StatusPartiallySucceeded
			default:
				agg.Failed = append(agg.Failed, failureOf(f))
				agg.Status = StatusPartiallySucceeded
			}
		}
	}
	return agg
}

// NewFailedToStart is the aggregate of a run whose plan was rejected.
func NewFailedToStart(requestID string, err error) Aggregate {
	return Aggregate{
		RequestID: requestID,
		Status:    StatusFailedToStart,
		Layers:    [][]string{},
		Findings:  []Finding{},
		Succeeded: []string{},
		Failed:    []TaskFailure{},
		Skipped:   []TaskFailure{},
		Error:     err.Error(),
	}
}

func failureOf(f Finding) TaskFailure {
	return TaskFailure{
		TaskName: f.TaskName,
		PolicyID: f.Verdict.PolicyID,
		Reasons:  f.Verdict.Reasons,
	}
}
