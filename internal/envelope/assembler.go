package envelope

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

// Defaults for Assembler limits.
const (
	DefaultFindingCap       = 500
	DefaultMinFindingTokens = 16
)

// BudgetExceededError reports that a section could not fit in the budget.
// The envelope is not built; the scheduler records the task as failed.
type BudgetExceededError struct {
	Section  string
	Required int
	Budget   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("context budget exceeded in %s: need %d tokens, budget is %d", e.Section, e.Required, e.Budget)
}

// Unwrap exposes the coded form of the error.
func (e *BudgetExceededError) Unwrap() error {
	return errors.NewBudgetExceededError(e.Section, e.Required, e.Budget)
}

// ToolSource yields the tool allowlist of a capability.
type ToolSource interface {
	Allowlist(capability string) ([]string, error)
}

// Assembler builds envelopes. The zero value is usable: it applies the
// default caps, no hard constraints and hard truncation.
type Assembler struct {
	// Summarizer shortens findings over their share. Nil means Identity.
	Summarizer Summarizer
	// FindingCap bounds the tokens of any single finding excerpt.
	FindingCap int
	// MinFindingTokens is the smallest useful excerpt. A share below it
	// fails the assembly instead of producing a meaningless stub.
	MinFindingTokens int
	// Constraints are rendered verbatim into every envelope.
	Constraints []string
	// Tools supplies the allowlist. Nil leaves it empty.
	Tools ToolSource

	requestID string
	objective string
}

// ForRun returns a copy of a bound to one run.
func (a *Assembler) ForRun(requestID, objective string) *Assembler {
	run := *a
	run.requestID = requestID
	run.objective = objective
	return &run
}

// Assemble builds the envelope for task.
//
// Mandatory sections (task summary, hard constraints, tool allowlist) are
// never trimmed; if they alone exceed budget a *BudgetExceededError is
// returned. Findings of direct dependencies share what remains, each
// excerpt capped at FindingCap and charged for its header line. History
// fills the rest newest first, whole messages only. The fixed section
// headings SystemPrompt adds are not charged.
func (a *Assembler) Assemble(task plan.SubTask, findings *finding.Store, history []Message, budget TokenBudget) (*Envelope, error) {
	total := int(budget)

	summary := a.renderSummary(task)
	constraints := append([]string(nil), a.Constraints...)

	allowlist := []string{}
	if a.Tools != nil {
		tools, err := a.Tools.Allowlist(task.Capability.String())
		if err != nil {
			return nil, fmt.Errorf("allowlist for %s: %w", task.Capability, err)
		}
		allowlist = append(allowlist, tools...)
	}

	summaryCost := EstimateTokens(summary)
	constraintCost := 0
	for _, c := range constraints {
		constraintCost += EstimateTokens(c)
	}
	allowlistCost := EstimateTokens(renderAllowlist(allowlist))

	mandatory := summaryCost + constraintCost + allowlistCost
	if mandatory > total {
		return nil, &BudgetExceededError{Section: SectionMandatory, Required: mandatory, Budget: total}
	}
	remaining := total - mandatory

	excerpts, allocated, findingCost, err := a.excerpts(task, findings, remaining)
	if err != nil {
		return nil, err
	}
	remaining -= findingCost

	slice, historyCost := fillHistory(history, remaining)

	return &Envelope{
		RequestID:        a.requestID,
		TaskName:         task.Name,
		Capability:       task.Capability.String(),
		TaskSummary:      summary,
		HardConstraints:  constraints,
		Allowlist:        allowlist,
		RelevantFindings: excerpts,
		HistorySlice:     slice,
		BudgetReport: BudgetReport{
			Budget:           total,
			TaskSummary:      SectionUsage{Allocated: summaryCost, Consumed: summaryCost},
			HardConstraints:  SectionUsage{Allocated: constraintCost, Consumed: constraintCost},
			Allowlist:        SectionUsage{Allocated: allowlistCost, Consumed: allowlistCost},
			RelevantFindings: SectionUsage{Allocated: allocated, Consumed: findingCost},
			HistorySlice:     SectionUsage{Allocated: remaining, Consumed: historyCost},
			Consumed:         mandatory + findingCost + historyCost,
		},
	}, nil
}

func (a *Assembler) renderSummary(task plan.SubTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nCapability: %s", task.Name, task.Capability)
	if a.objective != "" {
		fmt.Fprintf(&b, "\nObjective: %s", a.objective)
	}
	if d := strings.TrimSpace(task.Description); d != "" {
		fmt.Fprintf(&b, "\nGoal: %s", d)
	}
	return b.String()
}

// excerpts builds one excerpt per direct dependency that has a finding.
// Each dependency gets an equal share of remaining, out of which its header
// is paid first. It returns the excerpts, the tokens allocated to them and
// the tokens they use, headers included.
func (a *Assembler) excerpts(task plan.SubTask, findings *finding.Store, remaining int) ([]FindingExcerpt, int, int, error) {
	out := []FindingExcerpt{}
	if findings == nil || len(task.DependsOn) == 0 {
		return out, 0, 0, nil
	}
	deps := findings.Select(task.DependsOn)
	if len(deps) == 0 {
		return out, 0, 0, nil
	}

	share := remaining / len(deps)
	summarizer := a.Summarizer
	if summarizer == nil {
		summarizer = Identity
	}

	allocated, used := 0, 0
	for _, f := range deps {
		text := strings.TrimSpace(f.ValidatedOutput)
		ex := FindingExcerpt{TaskName: f.TaskName, Capability: f.Capability}
		headerCost := EstimateTokens(ex.header())
		room := min(a.findingCap(), share-headerCost)

		if EstimateTokens(text) > room {
			if room < a.minFindingTokens() {
				required := 0
				for _, d := range deps {
					required += a.minFindingTokens() + EstimateTokens(FindingExcerpt{TaskName: d.TaskName, Capability: d.Capability}.header())
				}
				return nil, 0, 0, &BudgetExceededError{
					Section:  SectionFindings,
					Required: required,
					Budget:   remaining,
				}
			}
			summarized := summarizer.Summarize(text, room)
			ex.Summarized = summarized != text
			text = summarized
			if EstimateTokens(text) > room {
				text = Truncate(text, room)
				ex.Truncated = true
			}
		}

		ex.Excerpt = text
		ex.Tokens = EstimateTokens(text)
		out = append(out, ex)
		allocated += max(room, 0) + headerCost
		used += ex.Tokens + headerCost
	}
	return out, allocated, used, nil
}

// fillHistory walks history newest first and keeps messages while they fit.
// The result is a contiguous suffix of history in chronological order.
func fillHistory(history []Message, remaining int) ([]Message, int) {
	start := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content) + messageOverhead
		if used+cost > remaining {
			break
		}
		used += cost
		start = i
	}
	slice := append([]Message{}, history[start:]...)
	return slice, used
}

func (a *Assembler) findingCap() int {
	if a.FindingCap > 0 {
		return a.FindingCap
	}
	return DefaultFindingCap
}

func (a *Assembler) minFindingTokens() int {
	if a.MinFindingTokens > 0 {
		return a.MinFindingTokens
	}
	return DefaultMinFindingTokens
}
