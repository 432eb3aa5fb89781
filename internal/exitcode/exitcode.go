package exitcode

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates the run fully succeeded
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// PlanRejected indicates the plan failed to compile
	PlanRejected = 3

	// PartialSuccess indicates at least one task failed or was skipped
	PartialSuccess = 4

	// RunDeadline indicates the run deadline cut the run short
	RunDeadline = 5

	// Interrupted indicates the run was cancelled, typically by SIGINT
	Interrupted = 130
)

// UsageErr marks err as a usage problem.
type UsageErr struct {
	Err error
}

func (e *UsageErr) Error() string { return e.Err.Error() }

func (e *UsageErr) Unwrap() error { return e.Err }

// Usage wraps err so DetermineExitCode reports UsageError.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return &UsageErr{Err: err}
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error returned by a command to an exit code.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var usage *UsageErr
	if stderrors.As(err, &usage) {
		return UsageError
	}

	var compile *plan.CompileError
	if stderrors.As(err, &compile) {
		return PlanRejected
	}

	switch {
	case errors.HasCode(err, errors.ErrCodeRunCancelled), stderrors.Is(err, context.Canceled):
		return Interrupted
	case errors.HasCode(err, errors.ErrCodeRunDeadline):
		return RunDeadline
	case errors.HasCode(err, errors.ErrCodeRunPartial):
		return PartialSuccess
	case errors.HasCode(err, errors.ErrCodePlanNotFound),
		errors.HasCode(err, errors.ErrCodePlanInvalid),
		errors.HasCode(err, errors.ErrCodeAuditDuplicateID):
		return UsageError
	}

	return GeneralError
}

// ForStatus maps the status of a completed run to an exit code.
func ForStatus(status finding.Status) int {
	switch status {
	case finding.StatusFullySucceeded:
		return Success
	case finding.StatusFailedToStart:
		return PlanRejected
	default:
		return PartialSuccess
	}
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case PlanRejected:
		return "Plan rejected"
	case PartialSuccess:
		return "Partial success (tasks failed or skipped)"
	case RunDeadline:
		return "Run deadline exceeded"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
