package envelope

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

func TestAssemble_NeverExceedsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := finding.NewStore()
		var deps []string
		nDeps := rapid.IntRange(0, 4).Draw(t, "deps")
		for i := 0; i < nDeps; i++ {
			name := fmt.Sprintf("dep-%d", i)
			deps = append(deps, name)
			out := rapid.StringN(0, 3000, -1).Draw(t, name)
			if err := store.Put(finding.Finding{TaskName: name, ValidatedOutput: out, State: plan.StateSucceeded}); err != nil {
				t.Fatal(err)
			}
		}

		var history []Message
		for i, n := 0, rapid.IntRange(0, 8).Draw(t, "history"); i < n; i++ {
			history = append(history, Message{Role: "user", Content: rapid.StringN(0, 400, -1).Draw(t, fmt.Sprintf("msg-%d", i))})
		}

		a := &Assembler{
			FindingCap:  rapid.IntRange(1, 600).Draw(t, "cap"),
			Constraints: []string{rapid.StringN(0, 200, -1).Draw(t, "constraint")},
			Tools:       staticTools{"general": rapid.SliceOfN(rapid.StringN(1, 30, -1), 0, 10).Draw(t, "tools")},
		}
		if rapid.Bool().Draw(t, "signal") {
			a.Summarizer = NewSignalSummarizer()
		}
		task := plan.SubTask{
			Name:        "task",
			Capability:  domain.Capability("general"),
			Description: rapid.StringN(0, 600, -1).Draw(t, "description"),
			DependsOn:   deps,
		}
		budget := rapid.IntRange(0, 3000).Draw(t, "budget")

		env, err := a.Assemble(task, store, history, TokenBudget(budget))
		if err != nil {
			return
		}

		report := env.BudgetReport
		if report.Consumed > budget {
			t.Fatalf("consumed %d exceeds budget %d", report.Consumed, budget)
		}

		sum := EstimateTokens(env.TaskSummary) + EstimateTokens(renderAllowlist(env.Allowlist))
		for _, c := range env.HardConstraints {
			sum += EstimateTokens(c)
		}
		for _, ex := range env.RelevantFindings {
			if ex.Tokens > a.FindingCap {
				t.Fatalf("excerpt %s uses %d tokens over cap %d", ex.TaskName, ex.Tokens, a.FindingCap)
			}
			sum += EstimateTokens(ex.Excerpt) + EstimateTokens(ex.header())
		}
		for _, m := range env.HistorySlice {
			sum += EstimateTokens(m.Content) + messageOverhead
		}
		if sum != report.Consumed {
			t.Fatalf("report says %d consumed, sections add to %d", report.Consumed, sum)
		}
	})
}
