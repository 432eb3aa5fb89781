package audit

import (
	"time"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// PlanPayload is written once a plan compiles.
type PlanPayload struct {
	ExecutionMode plan.Mode    `json:"execution_mode"`
	Plan          plan.RawPlan `json:"plan"`
	Layers        [][]string   `json:"layers"`
	PlanHash      string       `json:"plan_hash"`
	Objective     string       `json:"objective,omitempty"`
}

// DispatchPayload is written when a task is handed to its worker.
type DispatchPayload struct {
	Capability string                `json:"capability"`
	Layer      int                   `json:"layer"`
	DependsOn  []string              `json:"depends_on"`
	Allowlist  []string              `json:"allowlist"`
	Budget     envelope.BudgetReport `json:"budget_report"`
}

// ExecutionPayload is written for every attempt.
type ExecutionPayload struct {
	Attempt   int               `json:"attempt"`
	Output    string            `json:"output"`
	ToolTrace []worker.ToolCall `json:"tool_trace"`
	Error     string            `json:"error,omitempty"`
	TimedOut  bool              `json:"timed_out,omitempty"`
	Duration  time.Duration     `json:"duration"`
	// RetryIn is the delay before the next attempt, zero on the last one.
	RetryIn time.Duration `json:"retry_in,omitempty"`
}

// ValidationPayload carries the complete finding of a task.
type ValidationPayload struct {
	Finding finding.Finding `json:"finding"`
}

// ErrorPayload describes a task-local or run-level failure.
type ErrorPayload struct {
	Code     string `json:"code,omitempty"`
	Kind     string `json:"kind,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
	Message  string `json:"message"`
}

// AggregatePayload closes a run.
type AggregatePayload struct {
	Aggregate finding.Aggregate `json:"aggregate"`
}
