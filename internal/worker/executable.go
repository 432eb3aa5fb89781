package worker

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
)

// Executable wraps any program that reads an envelope as JSON on stdin and
// writes a RawResult as JSON on stdout.
type Executable struct {
	path string
	args []string
	// grace bounds how long the process may linger after cancellation.
	grace time.Duration
}

// NewExecutable creates a worker backed by the program at path.
func NewExecutable(path string, args []string, grace time.Duration) (*Executable, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("executable not found: %s: %w", path, err)
	}
	return &Executable{path: resolved, args: append([]string(nil), args...), grace: grace}, nil
}

// Invoke implements Handle.
func (e *Executable) Invoke(ctx context.Context, env *envelope.Envelope) (RawResult, error) {
	request, err := json.Marshal(env)
	if err != nil {
		return RawResult{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.path, e.args...)
	cmd.Stdin = bytes.NewReader(request)
	cmd.WaitDelay = e.grace
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RawResult{}, ctxErr
		}
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return RawResult{}, fmt.Errorf("worker exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return RawResult{}, fmt.Errorf("failed to execute worker: %w", err)
	}

	var result RawResult
	if err := json.Unmarshal(output, &result); err != nil {
		return RawResult{}, fmt.Errorf("failed to parse worker response: %w", err)
	}
	return result, nil
}
