package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// LoadPolicy reads a Policy from a YAML file and validates it
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodePolicyNotFound, fmt.Sprintf("policy file not found: %s", path)).
				WithSuggestion("Remove validation.policy_file to use the built-in policy")
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyInvalid, fmt.Sprintf("invalid policy %s", path), err)
	}

	return &policy, nil
}

// DefaultPolicy returns the built-in policy: destructive shell and cluster
// mutations are blocked everywhere, further mutations are blocked for
// read-only cluster workers.
func DefaultPolicy() *Policy {
	return &Policy{
		Safety: SafetyPolicy{
			Rules: []SafetyRule{
				{ID: "safety.rm_rf", Pattern: `\brm\s+-rf\b`, Severity: domain.SeverityCritical, Description: "recursive forced delete"},
				{ID: "safety.mkfs", Pattern: `\bmkfs\b`, Severity: domain.SeverityCritical, Description: "filesystem format"},
				{ID: "safety.dd", Pattern: `\bdd\s+if=`, Severity: domain.SeverityCritical, Description: "raw disk write"},
				{ID: "safety.fork_bomb", Pattern: `:\(\)\s*\{\s*:\|:&\s*\};:`, Severity: domain.SeverityCritical, Description: "fork bomb"},
				{ID: "safety.shutdown", Pattern: `\b(?:shutdown|reboot)\b`, Severity: domain.SeverityHigh, Description: "host power state change"},
				{ID: "safety.k8s_mutating", Pattern: `\bkubectl\s+(?:delete|apply|patch|edit|scale|drain|cordon|taint)\b`, Severity: domain.SeverityHigh, Description: "cluster mutation"},
				{
					ID:           "safety.k8s_readonly_violation",
					Pattern:      `\bkubectl\s+(?:create|replace|run|set|rollout)\b`,
					Severity:     domain.SeverityHigh,
					Description:  "mutation from a read-only cluster worker",
					Capabilities: []string{"k8s-readonly"},
				},
			},
		},
		Quality: QualityPolicy{
			Sentinels: []string{"error", "none", "null", "n/a", "no output", "(empty result)"},
		},
		HardConstraints: []string{
			"Do not run commands that modify or delete resources unless the task explicitly requires it.",
			"Never print credentials, tokens or private keys.",
		},
	}
}

// SavePolicy writes a Policy to a YAML file
func SavePolicy(policy *Policy, path string) error {
	data, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}

	return nil
}
