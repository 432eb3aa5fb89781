package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
)

// Echo returns a handle that answers with a digest of its envelope: the
// task summary and the names of the upstream findings it received.
func Echo() Handle {
	return Func(func(ctx context.Context, env *envelope.Envelope) (RawResult, error) {
		if err := ctx.Err(); err != nil {
			return RawResult{}, err
		}

		var b strings.Builder
		b.WriteString(env.TaskSummary)
		for _, f := range env.RelevantFindings {
			fmt.Fprintf(&b, "\nupstream %s: %s", f.TaskName, f.Excerpt)
		}
		return RawResult{
			Output:    b.String(),
			ToolTrace: []ToolCall{{Tool: "echo", Input: env.TaskName}},
		}, nil
	})
}

// Fixture returns a handle that always answers output. It stands in for
// real workers in dry runs and tests.
func Fixture(output string) Handle {
	return Func(func(ctx context.Context, env *envelope.Envelope) (RawResult, error) {
		if err := ctx.Err(); err != nil {
			return RawResult{}, err
		}
		return RawResult{Output: output, ToolTrace: []ToolCall{}}, nil
	})
}
