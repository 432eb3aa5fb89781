package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Capability names a class of worker, e.g. "k8s-readonly" or "general".
// This is a value object that enforces valid name formats.
type Capability string

var (
	// capabilityPattern: a lowercase letter followed by lowercase letters, digits and hyphens
	capabilityPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	maxCapabilityLength = 64
)

// NewCapability creates a new Capability value object with validation
func NewCapability(value string) (Capability, error) {
	c := Capability(value)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate checks if the capability name is well formed
func (c Capability) Validate() error {
	s := string(c)

	if s == "" {
		return fmt.Errorf("capability cannot be empty")
	}

	if len(s) > maxCapabilityLength {
		return fmt.Errorf("capability %q exceeds maximum length of %d characters", s, maxCapabilityLength)
	}

	if !capabilityPattern.MatchString(s) {
		return fmt.Errorf("capability %q must start with a letter and contain only lowercase letters, numbers, and hyphens", s)
	}

	if strings.Contains(s, "--") {
		return fmt.Errorf("capability %q cannot contain consecutive hyphens", s)
	}

	if strings.HasSuffix(s, "-") {
		return fmt.Errorf("capability %q cannot end with a hyphen", s)
	}

	return nil
}

// String returns the string representation
func (c Capability) String() string {
	return string(c)
}
