package ux

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// EnhanceError adds a recovery suggestion to errors that do not carry one.
// Coded errors already list their suggestions and pass through unchanged.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var ce *plan.CompileError
	if stderrors.As(err, &ce) {
		switch ce.Kind {
		case plan.KindCycle:
			return NewErrorWithSuggestion(err, "Remove one dependency on the cycle; 'dispatch plan layers' shows the layering once it compiles")
		case plan.KindUnknownCapability:
			return NewErrorWithSuggestion(err, "Run 'dispatch capabilities' to list registered capabilities")
		case plan.KindDanglingDependency:
			return NewErrorWithSuggestion(err, "depends_on must name tasks of the same plan")
		case plan.KindDuplicateName:
			return NewErrorWithSuggestion(err, "Task names must be unique within a plan")
		}
		return err
	}

	var de *errors.DispatchError
	if stderrors.As(err, &de) && len(de.Suggestions) > 0 {
		return err
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "no such file or directory") {
		if strings.Contains(errMsg, "plan") {
			return NewErrorWithSuggestion(err, "Pass an existing JSON or YAML plan with --plan")
		}
		return NewErrorWithSuggestion(err, "Check the path exists and you have read permissions")
	}

	if strings.Contains(errMsg, "permission denied") {
		return NewErrorWithSuggestion(err,
			"Check file permissions and ensure you have access to the required files/directories")
	}

	if strings.Contains(errMsg, "address already in use") {
		return NewErrorWithSuggestion(err, "Choose another --metrics-addr or stop the process holding the port")
	}

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no route to host") {
		return NewErrorWithSuggestion(err,
			"Check telemetry.endpoint and that the collector is reachable")
	}

	return err
}

// FormatError provides consistent error formatting with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}

	enhanced := EnhanceError(err)
	if context != "" {
		return fmt.Errorf("%s: %w", context, enhanced)
	}
	return enhanced
}
