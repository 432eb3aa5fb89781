package envelope

import (
	"fmt"
	"regexp"
	"strings"
)

// Summarizer shortens text towards maxTokens. Implementations may return
// text longer than maxTokens; the assembler truncates whatever remains.
type Summarizer interface {
	Summarize(text string, maxTokens int) string
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(text string, maxTokens int) string

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(text string, maxTokens int) string {
	return f(text, maxTokens)
}

// Identity returns text unchanged, leaving the cap to hard truncation.
var Identity Summarizer = SummarizerFunc(func(text string, _ int) string { return text })

var defaultSignals = regexp.MustCompile(`(?i)\b(?:error|exception|fail(?:ed|ure)?|timeout|warn(?:ing)?|traceback|blocked|denied|not found|[45]\d\d)\b`)

// SignalSummarizer keeps the head and tail of long output plus every line
// carrying an operational signal (errors, failures, timeouts, denials).
type SignalSummarizer struct {
	HeadLines      int
	TailLines      int
	MaxSignalLines int
	MaxLineRunes   int
}

// NewSignalSummarizer returns a SignalSummarizer with default limits.
func NewSignalSummarizer() *SignalSummarizer {
	return &SignalSummarizer{HeadLines: 3, TailLines: 2, MaxSignalLines: 10, MaxLineRunes: 220}
}

// Summarize implements Summarizer.
func (s *SignalSummarizer) Summarize(text string, maxTokens int) string {
	clean := strings.TrimSpace(text)
	if EstimateTokens(clean) <= maxTokens {
		return clean
	}

	var lines []string
	for _, line := range strings.Split(clean, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	head := min(s.HeadLines, len(lines))
	tail := min(s.TailLines, len(lines)-head)

	var signals []string
	seen := make(map[string]bool)
	for _, line := range lines[head : len(lines)-tail] {
		if len(signals) >= s.MaxSignalLines {
			break
		}
		if !defaultSignals.MatchString(line) {
			continue
		}
		line = s.clip(line)
		if seen[line] {
			continue
		}
		seen[line] = true
		signals = append(signals, line)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[summary of %d lines]\n", len(lines))
	for _, line := range lines[:head] {
		b.WriteString(s.clip(line))
		b.WriteByte('\n')
	}
	if len(signals) > 0 {
		b.WriteString("signals:\n")
		for _, line := range signals {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if omitted := len(lines) - head - tail; omitted > 0 {
		fmt.Fprintf(&b, "... (%d lines omitted)\n", omitted)
	}
	for _, line := range lines[len(lines)-tail:] {
		b.WriteString(s.clip(line))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *SignalSummarizer) clip(line string) string {
	if s.MaxLineRunes <= 0 {
		return line
	}
	r := []rune(line)
	if len(r) <= s.MaxLineRunes {
		return line
	}
	return string(r[:s.MaxLineRunes]) + "..."
}
