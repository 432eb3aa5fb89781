// Package worker defines the narrow interface through which capability
// workers are invoked, plus the built-in worker kinds.
package worker

import (
	"context"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
)

// ToolCall is one entry of a worker's internal tool trace.
type ToolCall struct {
	Tool   string `json:"tool"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RawResult is what a worker returns before validation.
type RawResult struct {
	Output    string     `json:"output"`
	ToolTrace []ToolCall `json:"tool_trace"`
	// Error is set when the worker ran but reports failure.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the worker reported an error.
func (r RawResult) Failed() bool {
	return r.Error != ""
}

// Handle invokes a worker. Implementations must honor ctx cancellation and
// must not retain env after returning.
type Handle interface {
	Invoke(ctx context.Context, env *envelope.Envelope) (RawResult, error)
}

// Func adapts a function to Handle.
type Func func(ctx context.Context, env *envelope.Envelope) (RawResult, error)

// Invoke implements Handle.
func (f Func) Invoke(ctx context.Context, env *envelope.Envelope) (RawResult, error) {
	return f(ctx, env)
}
