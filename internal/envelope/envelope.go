// Package envelope builds the bounded context handed to a worker for one
// subtask invocation.
package envelope

import (
	"fmt"
	"strings"
)

// Section names used in budget reports and errors.
const (
	SectionMandatory       = "mandatory"
	SectionTaskSummary     = "task_summary"
	SectionHardConstraints = "hard_constraints"
	SectionAllowlist       = "allowlist"
	SectionFindings        = "findings"
	SectionHistory         = "history_slice"
)

// Message is one entry of the conversation history preceding a run.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// TokenBudget is the total number of estimated tokens an envelope may use.
type TokenBudget int

// SectionUsage records the tokens reserved for a section and those it used.
type SectionUsage struct {
	Allocated int `json:"allocated"`
	Consumed  int `json:"consumed"`
}

// BudgetReport accounts for every token of an envelope.
type BudgetReport struct {
	Budget           int          `json:"budget"`
	TaskSummary      SectionUsage `json:"task_summary"`
	HardConstraints  SectionUsage `json:"hard_constraints"`
	Allowlist        SectionUsage `json:"allowlist"`
	RelevantFindings SectionUsage `json:"relevant_findings"`
	HistorySlice     SectionUsage `json:"history_slice"`
	Consumed         int          `json:"consumed"`
}

// Remaining returns the unused part of the budget.
func (r BudgetReport) Remaining() int {
	return r.Budget - r.Consumed
}

// FindingExcerpt is an upstream finding as presented to a downstream worker.
type FindingExcerpt struct {
	TaskName   string `json:"task_name"`
	Capability string `json:"capability"`
	Excerpt    string `json:"excerpt"`
	Tokens     int    `json:"tokens"`
	Summarized bool   `json:"summarized,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// header is the line that introduces the excerpt in SystemPrompt.
func (f FindingExcerpt) header() string {
	return fmt.Sprintf("[%s via %s]", f.TaskName, f.Capability)
}

// Envelope is the input of one worker invocation. It is not modified after
// it has been handed to the worker.
type Envelope struct {
	RequestID        string           `json:"request_id"`
	TaskName         string           `json:"task_name"`
	Capability       string           `json:"capability"`
	TaskSummary      string           `json:"task_summary"`
	HardConstraints  []string         `json:"hard_constraints"`
	Allowlist        []string         `json:"allowlist"`
	RelevantFindings []FindingExcerpt `json:"relevant_findings"`
	HistorySlice     []Message        `json:"history_slice"`
	BudgetReport     BudgetReport     `json:"budget_report"`
}

// SystemPrompt renders the envelope as a single instruction block for
// model-backed workers.
func (e *Envelope) SystemPrompt() string {
	var b strings.Builder

	b.WriteString(e.TaskSummary)
	b.WriteString("\n")

	if len(e.HardConstraints) > 0 {
		b.WriteString("\nHard constraints:\n")
		for _, c := range e.HardConstraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if len(e.Allowlist) > 0 {
		fmt.Fprintf(&b, "\nAllowed tools: %s\n", renderAllowlist(e.Allowlist))
	}

	if len(e.RelevantFindings) > 0 {
		b.WriteString("\nFindings from upstream tasks:\n")
		for _, f := range e.RelevantFindings {
			fmt.Fprintf(&b, "%s\n%s\n", f.header(), f.Excerpt)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderAllowlist(tools []string) string {
	return strings.Join(tools, ", ")
}
