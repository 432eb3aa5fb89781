package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanNotFound           ErrorCode = "PLAN-001"
	ErrCodePlanInvalid            ErrorCode = "PLAN-002"
	ErrCodePlanDuplicateName      ErrorCode = "PLAN-003"
	ErrCodePlanDanglingDependency ErrorCode = "PLAN-004"
	ErrCodePlanCyclicDep          ErrorCode = "PLAN-005"
	ErrCodePlanUnknownCapability  ErrorCode = "PLAN-006"

	// Capability errors (CAP-001 to CAP-099)
	ErrCodeCapabilityNotFound  ErrorCode = "CAP-001"
	ErrCodeCapabilityDuplicate ErrorCode = "CAP-002"
	ErrCodeCapabilityInvalid   ErrorCode = "CAP-003"

	// Context assembly errors (CTX-001 to CTX-099)
	ErrCodeContextBudgetExceeded ErrorCode = "CTX-001"

	// Worker errors (WORKER-001 to WORKER-099)
	ErrCodeWorkerTimeout    ErrorCode = "WORKER-001"
	ErrCodeWorkerInvocation ErrorCode = "WORKER-002"

	// Validation errors (VAL-001 to VAL-099)
	ErrCodePolicyInvalid   ErrorCode = "VAL-001"
	ErrCodePolicyNotFound  ErrorCode = "VAL-002"
	ErrCodeValidationBlock ErrorCode = "VAL-003"

	// Run errors (RUN-001 to RUN-099)
	ErrCodeRunDeadline  ErrorCode = "RUN-001"
	ErrCodeRunCancelled ErrorCode = "RUN-002"
	ErrCodeRunPartial   ErrorCode = "RUN-003"

	// Audit errors (AUDIT-001 to AUDIT-099)
	ErrCodeAuditWriteFailed ErrorCode = "AUDIT-001"
	ErrCodeAuditReadFailed  ErrorCode = "AUDIT-002"
	ErrCodeAuditNotFound    ErrorCode = "AUDIT-003"
	ErrCodeAuditChainBroken ErrorCode = "AUDIT-004"
	ErrCodeAuditConflict    ErrorCode = "AUDIT-005"
	ErrCodeAuditDuplicateID ErrorCode = "AUDIT-006"

	// Configuration errors (CFG-001 to CFG-099)
	ErrCodeConfigInvalid ErrorCode = "CFG-001"
	ErrCodeConfigRead    ErrorCode = "CFG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound   ErrorCode = "IO-001"
	ErrCodeFileReadFailed ErrorCode = "IO-002"
	ErrCodeFileUnmarshal  ErrorCode = "IO-005"
)

// DispatchError represents an enhanced error with code, suggestions, and documentation
type DispatchError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DispatchError carrying the same code.
func (e *DispatchError) Is(target error) bool {
	t, ok := target.(*DispatchError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new DispatchError
func New(code ErrorCode, message string) *DispatchError {
	return &DispatchError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new DispatchError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *DispatchError {
	return &DispatchError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *DispatchError) WithSuggestion(suggestion string) *DispatchError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *DispatchError) WithSuggestions(suggestions ...string) *DispatchError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *DispatchError) WithDocs(url string) *DispatchError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first DispatchError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *DispatchError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &DispatchError{Code: code})
}

// Common error constructors

// NewPlanNotFoundError creates a plan file not found error
func NewPlanNotFoundError(path string) *DispatchError {
	return New(ErrCodePlanNotFound, fmt.Sprintf("plan file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Plans may be JSON (.json) or YAML (.yaml, .yml)")
}

// NewCapabilityNotFoundError creates an unregistered capability error
func NewCapabilityNotFoundError(capability string) *DispatchError {
	return New(ErrCodeCapabilityNotFound, fmt.Sprintf("capability not registered: %s", capability)).
		WithSuggestion("Run 'dispatch capabilities' to list registered capabilities").
		WithSuggestion("Add the capability to the 'capabilities' section of the config file")
}

// NewCapabilityDuplicateError creates a re-registration error
func NewCapabilityDuplicateError(capability string) *DispatchError {
	return New(ErrCodeCapabilityDuplicate, fmt.Sprintf("capability already registered: %s", capability)).
		WithSuggestion("Capability names must be unique for the lifetime of the process")
}

// NewBudgetExceededError creates a context budget error
func NewBudgetExceededError(section string, required, budget int) *DispatchError {
	return New(ErrCodeContextBudgetExceeded,
		fmt.Sprintf("context budget exceeded in %s: need %d tokens, budget is %d", section, required, budget)).
		WithSuggestion("Raise context.budget_tokens in the config file").
		WithSuggestion("Shorten the task description or hard constraints")
}

// NewWorkerTimeoutError creates a worker timeout error
func NewWorkerTimeoutError(task string, attempt int, cause error) *DispatchError {
	return Wrap(ErrCodeWorkerTimeout, fmt.Sprintf("worker for task %q timed out on attempt %d", task, attempt), cause).
		WithSuggestion("Raise scheduler.task_timeout in the config file")
}

// NewWorkerInvocationError creates a worker failure error
func NewWorkerInvocationError(task string, attempt int, cause error) *DispatchError {
	return Wrap(ErrCodeWorkerInvocation, fmt.Sprintf("worker for task %q failed on attempt %d", task, attempt), cause)
}

// NewRunDeadlineError creates a run deadline error
func NewRunDeadlineError(requestID string) *DispatchError {
	return New(ErrCodeRunDeadline, fmt.Sprintf("run %s exceeded its deadline", requestID)).
		WithSuggestion("Raise scheduler.run_timeout or split the plan into smaller runs")
}

// NewRunCancelledError creates a run cancellation error
func NewRunCancelledError(requestID string, cause error) *DispatchError {
	return Wrap(ErrCodeRunCancelled, fmt.Sprintf("run %s was cancelled", requestID), cause)
}

// NewRunPartialError reports a run that finished with failed or skipped tasks
func NewRunPartialError(requestID string, failed, skipped int) *DispatchError {
	return New(ErrCodeRunPartial, fmt.Sprintf("run %s finished with %d failed and %d skipped tasks", requestID, failed, skipped)).
		WithSuggestion(fmt.Sprintf("Inspect the run with 'dispatch replay %s'", requestID))
}

// NewAuditNotFoundError creates an unknown request id error
func NewAuditNotFoundError(requestID string) *DispatchError {
	return New(ErrCodeAuditNotFound, fmt.Sprintf("no audit events recorded for request %s", requestID)).
		WithSuggestion("Check audit.dir and audit.sink point at the store used for the run")
}

// NewAuditDuplicateIDError reports a request id that already has a trail
func NewAuditDuplicateIDError(requestID string) *DispatchError {
	return New(ErrCodeAuditDuplicateID, fmt.Sprintf("request id %s is already recorded in the audit log", requestID)).
		WithSuggestion("Omit --request-id to generate a fresh one").
		WithSuggestion(fmt.Sprintf("Inspect the earlier run with 'dispatch replay %s'", requestID))
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *DispatchError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *DispatchError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
