package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/policy"
	"github.com/felixgeelhaar/dispatch/internal/security"
)

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewDefault()
	require.NoError(t, err)
	return p
}

func TestValidate(t *testing.T) {
	p := newPipeline(t)

	tests := []struct {
		name          string
		capability    string
		raw           string
		wantPassed    bool
		wantSeverity  domain.Severity
		wantPolicy    string
		wantOutput    string
		wantRedaction bool
	}{
		{
			name:         "clean output",
			capability:   "k8s-readonly",
			raw:          "3 pods running",
			wantPassed:   true,
			wantSeverity: domain.SeverityNone,
			wantOutput:   "3 pods running",
		},
		{
			name:          "bearer token redacted but passes",
			capability:    "general",
			raw:           "use header Bearer abcd1234efgh",
			wantPassed:    true,
			wantSeverity:  domain.SeverityLow,
			wantOutput:    "use header Bearer [REDACTED]",
			wantRedaction: true,
		},
		{
			name:         "dangerous command blocked",
			capability:   "general",
			raw:          "run: rm -rf /var/lib",
			wantPassed:   false,
			wantSeverity: domain.SeverityCritical,
			wantPolicy:   "safety.rm_rf",
			wantOutput:   "run: rm -rf /var/lib",
		},
		{
			name:         "capability specific rule",
			capability:   "k8s-readonly",
			raw:          "kubectl scale deploy/web --replicas=0",
			wantPassed:   false,
			wantSeverity: domain.SeverityHigh,
			wantPolicy:   "safety.k8s_mutating",
			wantOutput:   "kubectl scale deploy/web --replicas=0",
		},
		{
			name:         "empty output",
			capability:   "general",
			raw:          "",
			wantPassed:   false,
			wantSeverity: domain.SeverityMedium,
			wantPolicy:   PolicyQualityEmpty,
			wantOutput:   "",
		},
		{
			name:         "whitespace output",
			capability:   "general",
			raw:          " \n\t ",
			wantPassed:   false,
			wantSeverity: domain.SeverityMedium,
			wantPolicy:   PolicyQualityEmpty,
			wantOutput:   " \n\t ",
		},
		{
			name:         "sentinel output",
			capability:   "general",
			raw:          "N/A",
			wantPassed:   false,
			wantSeverity: domain.SeverityMedium,
			wantPolicy:   PolicyQualitySentinel,
			wantOutput:   "N/A",
		},
		{
			name:          "blocked output still redacted",
			capability:    "general",
			raw:           "kubectl delete secret db --token=abcdefgh123",
			wantPassed:    false,
			wantSeverity:  domain.SeverityHigh,
			wantPolicy:    "safety.k8s_mutating",
			wantOutput:    "kubectl delete secret db --token=[REDACTED]",
			wantRedaction: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, out := p.Validate(tt.capability, tt.raw, Context{RequestID: "req", TaskName: "task"})

			assert.Equal(t, tt.wantPassed, v.Passed)
			assert.Equal(t, tt.wantSeverity, v.Severity)
			assert.Equal(t, tt.wantPolicy, v.PolicyID)
			assert.Equal(t, tt.wantOutput, out)
			assert.Equal(t, tt.wantRedaction, len(v.Redactions) > 0)
			if !tt.wantPassed {
				assert.NotEmpty(t, v.Reasons)
			}
		})
	}
}

func TestValidate_SafetyBlockSuppressesQuality(t *testing.T) {
	compiled, err := (&policy.Policy{
		Safety: policy.SafetyPolicy{Rules: []policy.SafetyRule{
			{ID: "safety.sentinel_word", Pattern: `^error$`, Severity: domain.SeverityHigh, Description: "test rule"},
		}},
		Quality: policy.QualityPolicy{Sentinels: []string{"error"}},
	}).Compile()
	require.NoError(t, err)

	v, _ := New(compiled).Validate("general", "error", Context{})

	assert.Equal(t, "safety.sentinel_word", v.PolicyID)
	assert.Equal(t, domain.SeverityHigh, v.Severity)
	assert.Len(t, v.Reasons, 1, "quality must not report after a safety block")
	assert.True(t, v.Blocked())
}

func TestValidate_MultipleRulesKeepFirstPolicy(t *testing.T) {
	p := newPipeline(t)

	v, _ := p.Validate("general", "kubectl drain node-1 && shutdown -h now && rm -rf /", Context{})

	assert.Equal(t, "safety.rm_rf", v.PolicyID, "rules are evaluated in policy order")
	assert.Equal(t, domain.SeverityCritical, v.Severity)
	assert.Len(t, v.Reasons, 3)
}

func TestValidate_RedactionOnlyOutputSurvivesQuality(t *testing.T) {
	p := newPipeline(t)

	v, out := p.Validate("general", "password=supersecret", Context{})

	assert.True(t, v.Passed)
	assert.Equal(t, "password=[REDACTED]", out)
	assert.Equal(t, []string{"secret.kv"}, security.PolicyIDs(v.Redactions))
}

func TestValidate_NoRedactor(t *testing.T) {
	compiled, err := (&policy.Policy{Redaction: policy.RedactionPolicy{DisableDefaults: true}}).Compile()
	require.NoError(t, err)

	v, out := New(compiled).Validate("general", "Bearer abcdefgh", Context{})
	assert.True(t, v.Passed)
	assert.Equal(t, "Bearer abcdefgh", out)
	assert.Empty(t, v.Redactions)
}

func TestRedact_MatchesValidatedOutput(t *testing.T) {
	p := newPipeline(t)
	raw := "rm -rf /tmp/cache with token=abcdef123456"

	v, validated := p.Validate("general", raw, Context{})
	redacted, spans := p.Redact(raw)

	assert.False(t, v.Passed)
	assert.Equal(t, validated, redacted)
	assert.Equal(t, v.Redactions, spans)
	assert.NotContains(t, redacted, "abcdef123456")

	compiled, err := (&policy.Policy{Redaction: policy.RedactionPolicy{DisableDefaults: true}}).Compile()
	require.NoError(t, err)
	out, spans := New(compiled).Redact(raw)
	assert.Equal(t, raw, out)
	assert.Empty(t, spans)
}

func TestFailure(t *testing.T) {
	v := Failure(PolicyUpstreamFailure, domain.SeverityHigh, "dependency fetch failed")

	assert.False(t, v.Passed)
	assert.True(t, v.Blocked())
	assert.Equal(t, []string{"dependency fetch failed"}, v.Reasons)
}
