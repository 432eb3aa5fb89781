package validation

import (
	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/security"
)

// Policy ids produced outside the configured policy document.
const (
	PolicyQualityEmpty    = "quality.empty"
	PolicyQualitySentinel = "quality.sentinel"
	PolicyUpstreamFailure = "upstream_failure"
	PolicyRunDeadline     = "run_deadline"
	PolicyRunCancelled    = "run_cancelled"
	PolicyFailFast        = "fail_fast"
	PolicyWorkerTimeout   = "worker.timeout"
	PolicyWorkerError     = "worker.error"
	PolicyBudgetExceeded  = "context.budget_exceeded"
)

// Verdict is the immutable outcome of validating one raw output.
type Verdict struct {
	Passed     bool            `json:"passed"`
	Severity   domain.Severity `json:"severity"`
	PolicyID   string          `json:"policy_id"`
	Redactions []security.Span `json:"redactions"`
	Reasons    []string        `json:"reasons"`
}

// Blocked reports whether the verdict is a validation block (high or critical).
func (v Verdict) Blocked() bool {
	return !v.Passed && v.Severity.IsBlocking()
}

// Failure builds a failing verdict for outcomes decided outside the pipeline,
// such as exhausted retries or upstream failures.
func Failure(policyID string, severity domain.Severity, reasons ...string) Verdict {
	return Verdict{
		Passed:   false,
		Severity: severity,
		PolicyID: policyID,
		Reasons:  reasons,
	}
}
