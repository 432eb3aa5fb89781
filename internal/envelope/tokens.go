package envelope

import "unicode/utf8"

// messageOverhead is the framing cost charged per history message.
const messageOverhead = 4

// EstimateTokens approximates the token count of s as a quarter of its
// rune count, never less than one for non-empty text.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Truncate cuts s so that EstimateTokens(result) <= maxTokens, on a rune
// boundary.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(s) <= maxTokens {
		return s
	}

	limit := maxTokens * 4
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
