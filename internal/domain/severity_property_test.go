package domain

import (
	"testing"

	"pgregory.net/rapid"
)

func genSeverity() *rapid.Generator[Severity] {
	return rapid.Custom(func(t *rapid.T) Severity {
		return Severity(rapid.IntRange(int(SeverityNone), int(SeverityCritical)).Draw(t, "severity"))
	})
}

// TestSeverity_TextRoundTrip checks that every valid severity survives text encoding
func TestSeverity_TextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genSeverity().Draw(t, "s")

		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}

		var back Severity
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != s {
			t.Fatalf("round trip changed %v into %v", s, back)
		}
	})
}

// TestSeverity_MaxIsUpperBound checks Max is commutative and never below either input
func TestSeverity_MaxIsUpperBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genSeverity().Draw(t, "a")
		b := genSeverity().Draw(t, "b")

		m := a.Max(b)
		if m != b.Max(a) {
			t.Fatalf("Max not commutative for %v, %v", a, b)
		}
		if !m.AtLeast(a) || !m.AtLeast(b) {
			t.Fatalf("Max(%v, %v) = %v is below an input", a, b, m)
		}
	})
}
