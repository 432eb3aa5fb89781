package domain

import "fmt"

// Severity grades a validation outcome. The zero value is SeverityNone.
type Severity int

// Severity levels, ordered
const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

// ParseSeverity parses a severity name.
func ParseSeverity(value string) (Severity, error) {
	for i, name := range severityNames {
		if name == value {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("invalid severity %q: must be one of none, low, medium, high, critical", value)
}

// String returns the string representation
func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

// IsBlocking reports whether the severity blocks an output (high or critical).
func (s Severity) IsBlocking() bool {
	return s >= SeverityHigh
}

// MarshalText encodes the severity by name so JSON and YAML carry "high" rather than 3.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityNone || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
