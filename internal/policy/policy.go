package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/security"
)

// Policy is the validation policy document.
type Policy struct {
	Safety          SafetyPolicy    `yaml:"safety" json:"safety"`
	Redaction       RedactionPolicy `yaml:"redaction" json:"redaction"`
	Quality         QualityPolicy   `yaml:"quality" json:"quality"`
	HardConstraints []string        `yaml:"hard_constraints" json:"hard_constraints"`
}

// SafetyPolicy lists denylist rules. A rule with no capabilities applies to every capability.
type SafetyPolicy struct {
	Rules []SafetyRule `yaml:"rules" json:"rules"`
}

// SafetyRule blocks outputs matching Pattern (case-insensitive).
type SafetyRule struct {
	ID           string          `yaml:"id" json:"id"`
	Pattern      string          `yaml:"pattern" json:"pattern"`
	Severity     domain.Severity `yaml:"severity" json:"severity"`
	Description  string          `yaml:"description" json:"description"`
	Capabilities []string        `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// RedactionPolicy adds detectors on top of the built-in ones.
type RedactionPolicy struct {
	DisableDefaults bool               `yaml:"disable_defaults" json:"disable_defaults"`
	Patterns        []RedactionPattern `yaml:"patterns" json:"patterns"`
}

// RedactionPattern is the document form of security.Pattern.
type RedactionPattern struct {
	ID          string `yaml:"id" json:"id"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Group       int    `yaml:"group" json:"group"`
	Description string `yaml:"description" json:"description"`
}

// QualityPolicy lists outputs that count as empty.
type QualityPolicy struct {
	Sentinels []string `yaml:"sentinels" json:"sentinels"`
}

// Rule is a compiled safety rule.
type Rule struct {
	ID           string
	Pattern      *regexp.Regexp
	Severity     domain.Severity
	Description  string
	capabilities map[string]bool
}

// AppliesTo reports whether the rule covers capability.
func (r Rule) AppliesTo(capability string) bool {
	return len(r.capabilities) == 0 || r.capabilities[capability]
}

// Compiled is a validated, ready-to-match policy.
type Compiled struct {
	Rules           []Rule
	Redactor        *security.Redactor
	Sentinels       map[string]bool
	HardConstraints []string
}

// Validate checks the document without compiling it.
func (p *Policy) Validate() error {
	_, err := p.Compile()
	return err
}

// Compile validates p and compiles its expressions.
func (p *Policy) Compile() (*Compiled, error) {
	c := &Compiled{
		Sentinels:       make(map[string]bool, len(p.Quality.Sentinels)),
		HardConstraints: p.HardConstraints,
	}

	seen := make(map[string]bool)
	for i, sr := range p.Safety.Rules {
		if sr.ID == "" {
			return nil, fmt.Errorf("safety rule at index %d has no id", i)
		}
		if seen[sr.ID] {
			return nil, fmt.Errorf("safety rule id %q is used twice", sr.ID)
		}
		seen[sr.ID] = true

		if !sr.Severity.IsBlocking() {
			return nil, fmt.Errorf("safety rule %s: severity must be high or critical, got %s", sr.ID, sr.Severity)
		}
		re, err := regexp.Compile("(?i)" + sr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %s: %w", sr.ID, err)
		}

		rule := Rule{ID: sr.ID, Pattern: re, Severity: sr.Severity, Description: sr.Description}
		if len(sr.Capabilities) > 0 {
			rule.capabilities = make(map[string]bool, len(sr.Capabilities))
			for _, capName := range sr.Capabilities {
				if _, err := domain.NewCapability(capName); err != nil {
					return nil, fmt.Errorf("safety rule %s: %w", sr.ID, err)
				}
				rule.capabilities[capName] = true
			}
		}
		c.Rules = append(c.Rules, rule)
	}

	var patterns []security.Pattern
	if !p.Redaction.DisableDefaults {
		patterns = security.DefaultPatterns()
	}
	for i, rp := range p.Redaction.Patterns {
		re, err := regexp.Compile(rp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %d (%s): %w", i, rp.ID, err)
		}
		patterns = append(patterns, security.Pattern{ID: rp.ID, Pattern: re, Group: rp.Group, Description: rp.Description})
	}
	if len(patterns) > 0 {
		redactor, err := security.NewRedactor(patterns...)
		if err != nil {
			return nil, err
		}
		c.Redactor = redactor
	}

	for _, s := range p.Quality.Sentinels {
		c.Sentinels[normalizeSentinel(s)] = true
	}

	return c, nil
}

// IsSentinel reports whether output equals one of the configured sentinels.
func (c *Compiled) IsSentinel(output string) bool {
	return c.Sentinels[normalizeSentinel(output)]
}

func normalizeSentinel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
