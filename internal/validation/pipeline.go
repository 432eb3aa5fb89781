package validation

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/policy"
	"github.com/felixgeelhaar/dispatch/internal/security"
)

// Context identifies the output being validated. Stages may only use it
// for reporting.
type Context struct {
	RequestID string
	TaskName  string
}

// Pipeline applies safety interception, redaction and quality checks in
// that order. It keeps no state between calls.
type Pipeline struct {
	policy *policy.Compiled
}

// New creates a pipeline for a compiled policy.
func New(p *policy.Compiled) *Pipeline {
	return &Pipeline{policy: p}
}

// NewDefault creates a pipeline for policy.DefaultPolicy.
func NewDefault() (*Pipeline, error) {
	compiled, err := policy.DefaultPolicy().Compile()
	if err != nil {
		return nil, fmt.Errorf("compile default policy: %w", err)
	}
	return New(compiled), nil
}

// HardConstraints returns the policy text every worker must receive.
func (p *Pipeline) HardConstraints() []string {
	return p.policy.HardConstraints
}

// Validate scores raw for capability and returns the verdict together with
// the validated (redacted) output.
//
// Redaction always runs. A safety block suppresses the quality check.
func (p *Pipeline) Validate(capability, raw string, _ Context) (Verdict, string) {
	v := Verdict{Passed: true, Severity: domain.SeverityNone}

	p.intercept(capability, raw, &v)
	validated := p.redact(raw, &v)
	if v.Passed {
		p.checkQuality(validated, &v)
	}

	return v, validated
}

// Redact applies the redaction stage alone. It never fails.
func (p *Pipeline) Redact(text string) (string, []security.Span) {
	if p.policy.Redactor == nil {
		return text, nil
	}
	return p.policy.Redactor.Redact(text)
}

func (p *Pipeline) intercept(capability, raw string, v *Verdict) {
	for _, rule := range p.policy.Rules {
		if !rule.AppliesTo(capability) {
			continue
		}
		loc := rule.Pattern.FindStringIndex(raw)
		if loc == nil {
			continue
		}

		if v.Passed {
			v.Passed = false
			v.PolicyID = rule.ID
		}
		v.Severity = v.Severity.Max(rule.Severity)
		v.Reasons = append(v.Reasons, fmt.Sprintf("%s: %s (%q at offset %d)", rule.ID, rule.Description, raw[loc[0]:loc[1]], loc[0]))
	}
}

func (p *Pipeline) redact(raw string, v *Verdict) string {
	validated, spans := p.Redact(raw)
	if len(spans) == 0 {
		return raw
	}

	v.Redactions = spans
	if v.Passed {
		v.Severity = v.Severity.Max(domain.SeverityLow)
	}
	v.Reasons = append(v.Reasons, fmt.Sprintf("redacted %d span(s): %s", len(spans), strings.Join(security.PolicyIDs(spans), ", ")))
	return validated
}

func (p *Pipeline) checkQuality(validated string, v *Verdict) {
	switch {
	case strings.TrimSpace(validated) == "":
		v.Passed = false
		v.Severity = v.Severity.Max(domain.SeverityMedium)
		v.PolicyID = PolicyQualityEmpty
		v.Reasons = append(v.Reasons, "output is empty")
	case p.policy.IsSentinel(validated):
		v.Passed = false
		v.Severity = v.Severity.Max(domain.SeverityMedium)
		v.PolicyID = PolicyQualitySentinel
		v.Reasons = append(v.Reasons, fmt.Sprintf("output %q is a known empty/error sentinel", strings.TrimSpace(validated)))
	}
}
