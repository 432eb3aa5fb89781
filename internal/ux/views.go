package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/health"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/registry"
)

// View is a command result that renders as text and encodes as its Data.
type View interface {
	Render(s Styles) string
	Data() any
}

// AggregateView shows the outcome of a run.
type AggregateView struct {
	Aggregate *finding.Aggregate
}

// Data implements View.
func (v AggregateView) Data() any { return v.Aggregate }

// Render implements View.
func (v AggregateView) Render(s Styles) string {
	agg := v.Aggregate
	var b strings.Builder

	b.WriteString(s.Title.Render("Run "+agg.RequestID) + "\n")
	b.WriteString(kv(s, "status", statusStyle(s, agg.Status).Render(string(agg.Status))))
	if agg.PlanHash != "" {
		b.WriteString(kv(s, "plan", s.Muted.Render(agg.PlanHash)))
	}
	if agg.Error != "" {
		b.WriteString(kv(s, "error", s.Error.Render(agg.Error)))
	}

	for _, f := range agg.Findings {
		b.WriteString("\n")
		b.WriteString(findingLine(s, f) + "\n")
		switch {
		case f.Succeeded():
			if out := strings.TrimSpace(f.ValidatedOutput); out != "" {
				b.WriteString(indent(s.Value.Render(out), "    ") + "\n")
			}
		default:
			for _, reason := range f.Verdict.Reasons {
				b.WriteString("    " + s.Muted.Render(reason) + "\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(s.Muted.Render(fmt.Sprintf("%d succeeded, %d failed, %d skipped",
		len(agg.Succeeded), len(agg.Failed), len(agg.Skipped))))
	return b.String()
}

func findingLine(s Styles, f finding.Finding) string {
	var mark string
	switch f.State {
	case plan.StateSucceeded:
		mark = s.Success.Render("✓")
	case plan.StateSkipped:
		mark = s.Warning.Render("-")
	default:
		mark = s.Error.Render("✗")
	}

	line := fmt.Sprintf("%s %s %s", mark, s.Key.Render(f.TaskName), s.Muted.Render("["+f.Capability+"]"))
	if f.Verdict.PolicyID != "" {
		line += " " + s.Muted.Render(f.Verdict.PolicyID)
	}
	if f.Attempts > 1 {
		line += " " + s.Muted.Render(fmt.Sprintf("(%d attempts)", f.Attempts))
	}
	return line
}

func statusStyle(s Styles, status finding.Status) lipgloss.Style {
	switch status {
	case finding.StatusFullySucceeded:
		return s.Success
	case finding.StatusPartiallySucceeded:
		return s.Warning
	default:
		return s.Error
	}
}

// LayersView shows the execution layering of a compiled plan.
type LayersView struct {
	Plan *plan.CompiledPlan
}

type layersData struct {
	Mode     plan.Mode  `json:"execution_mode"`
	PlanHash string     `json:"plan_hash"`
	Layers   [][]string `json:"layers"`
}

// Data implements View.
func (v LayersView) Data() any {
	return layersData{Mode: v.Plan.Mode, PlanHash: v.Plan.Hash, Layers: v.Plan.Layers}
}

// Render implements View.
func (v LayersView) Render(s Styles) string {
	var b strings.Builder
	b.WriteString(s.Title.Render(fmt.Sprintf("%d tasks in %d layers", v.Plan.Len(), len(v.Plan.Layers))) + "\n")
	b.WriteString(kv(s, "mode", string(v.Plan.Mode)))
	b.WriteString(kv(s, "plan", s.Muted.Render(v.Plan.Hash)))
	for i, layer := range v.Plan.Layers {
		b.WriteString(fmt.Sprintf("%s %s\n", s.Header.Render(fmt.Sprintf("layer %d:", i)), strings.Join(layer, ", ")))
	}
	return strings.TrimRight(b.String(), "\n")
}

// CapabilitiesView lists registered capabilities and their health.
type CapabilitiesView struct {
	Entries []registry.Entry
	Health  []registry.Status
}

type capabilityData struct {
	registry.Entry
	Healthy bool `json:"healthy"`
}

// Data implements View.
func (v CapabilitiesView) Data() any {
	healthy := make(map[string]bool, len(v.Health))
	for _, h := range v.Health {
		healthy[h.Name] = h.Healthy
	}
	out := make([]capabilityData, 0, len(v.Entries))
	for _, e := range v.Entries {
		out = append(out, capabilityData{Entry: e, Healthy: healthy[e.Name]})
	}
	return out
}

// Render implements View.
func (v CapabilitiesView) Render(s Styles) string {
	if len(v.Entries) == 0 {
		return s.Muted.Render("no capabilities registered")
	}
	var lines []string
	for _, c := range v.Data().([]capabilityData) {
		mark := s.Success.Render("●")
		if !c.Healthy {
			mark = s.Error.Render("●")
		}
		line := fmt.Sprintf("%s %s  %s", mark, s.Key.Render(c.Name), c.Description)
		if len(c.Tools) > 0 {
			line += " " + s.Muted.Render("(tools: "+strings.Join(c.Tools, ", ")+")")
		}
		lines = append(lines, line)
	}
	return s.Box.Render(strings.Join(lines, "\n"))
}

// ReplayView shows a run reconstructed from its audit trail.
type ReplayView struct {
	Replay *audit.Replay
}

type replayData struct {
	RequestID  string             `json:"request_id"`
	Events     int                `json:"events"`
	Consistent bool               `json:"consistent"`
	Recorded   *finding.Aggregate `json:"recorded,omitempty"`
	Recomputed finding.Aggregate  `json:"recomputed"`
}

// Data implements View.
func (v ReplayView) Data() any {
	r := v.Replay
	return replayData{
		RequestID:  r.RequestID,
		Events:     len(r.Events),
		Consistent: r.Consistent,
		Recorded:   r.Recorded,
		Recomputed: r.Recomputed,
	}
}

// Render implements View.
func (v ReplayView) Render(s Styles) string {
	r := v.Replay
	var b strings.Builder

	b.WriteString(s.Title.Render("Replay "+r.RequestID) + "\n")
	b.WriteString(kv(s, "events", fmt.Sprintf("%d (chain verified)", len(r.Events))))
	if r.Consistent {
		b.WriteString(kv(s, "consistent", s.Success.Render("yes")))
	} else {
		b.WriteString(kv(s, "consistent", s.Error.Render("no")))
	}
	if r.Recorded == nil {
		b.WriteString(kv(s, "recorded", s.Warning.Render("run never reached aggregation")))
	}

	b.WriteString("\n")
	for _, e := range r.Events {
		task := e.TaskName
		if task == "" {
			task = "-"
		}
		b.WriteString(fmt.Sprintf("%4d  %-10s %s\n", e.Seq, e.Type, s.Muted.Render(task)))
	}

	b.WriteString("\n")
	b.WriteString(AggregateView{Aggregate: &r.Recomputed}.Render(s))
	return b.String()
}

// HealthView shows the results of the doctor checks.
type HealthView struct {
	Results []*health.Result
}

type healthData struct {
	Status health.Status    `json:"status"`
	Checks []*health.Result `json:"checks"`
}

// Data implements View.
func (v HealthView) Data() any {
	return healthData{Status: health.Overall(v.Results), Checks: v.Results}
}

// Render implements View.
func (v HealthView) Render(s Styles) string {
	var b strings.Builder
	for _, r := range v.Results {
		mark := s.Success.Render("ok  ")
		switch r.Status {
		case health.StatusDegraded:
			mark = s.Warning.Render("warn")
		case health.StatusUnhealthy:
			mark = s.Error.Render("fail")
		}
		b.WriteString(fmt.Sprintf("%s %s  %s\n", mark, s.Key.Render(r.Name), r.Message))
		if e, ok := r.Details["error"]; ok {
			b.WriteString("     " + s.Muted.Render(fmt.Sprint(e)) + "\n")
		}
	}
	b.WriteString("\n" + kv(s, "overall", string(health.Overall(v.Results))))
	return strings.TrimRight(b.String(), "\n")
}

func kv(s Styles, key, value string) string {
	return fmt.Sprintf("%s %s\n", s.Key.Render(key+":"), value)
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

var (
	_ View = AggregateView{}
	_ View = LayersView{}
	_ View = CapabilitiesView{}
	_ View = ReplayView{}
	_ View = HealthView{}
)
