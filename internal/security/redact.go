package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

// Pattern detects one kind of credential-shaped text. Group selects the
// capture group holding the secret itself; 0 redacts the whole match.
type Pattern struct {
	ID          string
	Pattern     *regexp.Regexp
	Group       int
	Description string
}

// Span is a redacted byte range of the original text.
type Span struct {
	PolicyID string `json:"policy_id"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// DefaultPatterns returns the built-in credential detectors.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			ID:          "secret.bearer",
			Pattern:     regexp.MustCompile(`(?i)(\bBearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
			Group:       2,
			Description: "Bearer token",
		},
		{
			ID:          "secret.kv",
			Pattern:     regexp.MustCompile(`(?i)(\b(?:api[_-]?key|token|secret|password)\b\s*[:=]\s*)([^\s,;]{6,})`),
			Group:       2,
			Description: "Credential assignment",
		},
		{
			ID:          "secret.aws_access_key",
			Pattern:     regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
			Group:       1,
			Description: "AWS Access Key ID",
		},
		{
			ID:          "secret.github_token",
			Pattern:     regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9_]{36,})`),
			Group:       1,
			Description: "GitHub token",
		},
		{
			ID:          "secret.slack_token",
			Pattern:     regexp.MustCompile(`xox[baprs]-[0-9]{10,12}-[0-9]{10,12}-[A-Za-z0-9]{24,}`),
			Description: "Slack token",
		},
		{
			ID:          "secret.private_key",
			Pattern:     regexp.MustCompile(`(?s)-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)?\s*PRIVATE KEY-----.*?(?:-----END\s+(?:RSA|DSA|EC|OPENSSH|PGP)?\s*PRIVATE KEY-----|\z)`),
			Description: "Private key block",
		},
		{
			ID:          "secret.jwt",
			Pattern:     regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
			Description: "JWT",
		},
		{
			ID:          "secret.database_url",
			Pattern:     regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s'":@/]+:([^\s'"@/]+)@`),
			Group:       1,
			Description: "Password in a connection string",
		},
	}
}

// Redactor replaces credential-shaped substrings with Placeholder.
// It holds no state between calls and is safe for concurrent use.
type Redactor struct {
	patterns []Pattern
}

// NewRedactor creates a redactor. With no patterns it uses DefaultPatterns.
func NewRedactor(patterns ...Pattern) (*Redactor, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	for _, p := range patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("redaction pattern has no id")
		}
		if p.Pattern == nil {
			return nil, fmt.Errorf("redaction pattern %s has no expression", p.ID)
		}
		if p.Group < 0 || p.Group > p.Pattern.NumSubexp() {
			return nil, fmt.Errorf("redaction pattern %s: group %d out of range", p.ID, p.Group)
		}
	}
	return &Redactor{patterns: patterns}, nil
}

// Patterns returns the configured detectors.
func (r *Redactor) Patterns() []Pattern {
	return r.patterns
}

// Redact returns text with every detected secret replaced, along with the
// replaced spans in original byte offsets. Overlapping detections merge
// into one span attributed to the earliest one.
func (r *Redactor) Redact(text string) (string, []Span) {
	var spans []Span
	for _, p := range r.patterns {
		for _, loc := range p.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 || end <= start {
				continue
			}
			spans = append(spans, Span{PolicyID: p.ID, Start: start, End: end})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}

	spans = mergeSpans(spans)

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.Start])
		b.WriteString(Placeholder)
		last = s.End
	}
	b.WriteString(text[last:])
	return b.String(), spans
}

func mergeSpans(spans []Span) []Span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})

	merged := []Span{spans[0]}
	for _, s := range spans[1:] {
		cur := &merged[len(merged)-1]
		if s.Start < cur.End {
			if s.End > cur.End {
				cur.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// PolicyIDs returns the distinct policy ids of spans, sorted.
func PolicyIDs(spans []Span) []string {
	seen := make(map[string]bool, len(spans))
	var ids []string
	for _, s := range spans {
		if !seen[s.PolicyID] {
			seen[s.PolicyID] = true
			ids = append(ids, s.PolicyID)
		}
	}
	sort.Strings(ids)
	return ids
}
