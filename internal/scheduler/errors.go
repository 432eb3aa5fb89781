package scheduler

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// ErrRunDeadlineExceeded matches, via errors.Is, the error Run returns when
// the run deadline cut it short.
var ErrRunDeadlineExceeded = errors.New(errors.ErrCodeRunDeadline, "run deadline exceeded")

// ErrRunCancelled matches the error Run returns when its context was cancelled.
var ErrRunCancelled = errors.New(errors.ErrCodeRunCancelled, "run cancelled")

// WorkerTimeoutError is an attempt that outlived the task timeout.
type WorkerTimeoutError struct {
	Task    string
	Attempt int
	Timeout time.Duration
}

func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("worker for task %q timed out after %s on attempt %d", e.Task, e.Timeout, e.Attempt)
}

// Unwrap exposes the coded form of the error.
func (e *WorkerTimeoutError) Unwrap() error {
	return errors.NewWorkerTimeoutError(e.Task, e.Attempt, nil)
}

// WorkerInvocationError is an attempt whose worker failed or reported an error.
type WorkerInvocationError struct {
	Task    string
	Attempt int
	Err     error
}

func (e *WorkerInvocationError) Error() string {
	return fmt.Sprintf("worker for task %q failed on attempt %d: %v", e.Task, e.Attempt, e.Err)
}

// Unwrap exposes the coded form of the error, which wraps Err.
func (e *WorkerInvocationError) Unwrap() error {
	return errors.NewWorkerInvocationError(e.Task, e.Attempt, e.Err)
}
