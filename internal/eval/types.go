package eval

import (
	"context"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/validation"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// Rule dimensions
const (
	DimensionCompleteness    = "completeness"
	DimensionExecutionHealth = "execution_health"
	DimensionEfficiency      = "efficiency"
)

// Input is everything known about one executed task.
type Input struct {
	TaskName    string
	Capability  string
	Description string
	Output      string
	ToolTrace   []worker.ToolCall
	Verdict     validation.Verdict
	Attempts    int
	Duration    time.Duration
	// Timeout is the per-attempt limit the task ran under. Zero disables
	// the duration part of the efficiency score.
	Timeout time.Duration
}

// Report is the evaluation of one task. It never changes task state.
type Report struct {
	TaskName    string         `json:"task_name"`
	Score       int            `json:"score"`
	RuleScore   int            `json:"rule_score"`
	JudgeScore  *int           `json:"judge_score,omitempty"`
	Dimensions  map[string]int `json:"dimensions"`
	Passed      bool           `json:"passed"`
	Threshold   int            `json:"threshold"`
	Reasons     []string       `json:"reasons"`
	Suggestions []string       `json:"suggestions"`
}

// Judgement is an external judge's view of one task.
type Judgement struct {
	// Dimensions are 0-100 scores keyed by dimension name.
	Dimensions map[string]int
	Reasons    []string
}

// Judge scores task output semantically, typically with a model.
type Judge interface {
	Judge(ctx context.Context, in Input) (Judgement, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, in Input) (Judgement, error)

// Judge implements Judge.
func (f JudgeFunc) Judge(ctx context.Context, in Input) (Judgement, error) {
	return f(ctx, in)
}
