// Package eval scores executed tasks. Scores are advisory: they are
// recorded and exported as metrics but never change a task's state.
package eval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/log"
)

// Defaults for HybridEvaluator.
const (
	DefaultThreshold  = 60
	DefaultRuleWeight = 0.6

	maxReasons     = 5
	maxSuggestions = 3
	maxKeywords    = 8
)

var (
	keywordPattern = regexp.MustCompile(`[A-Za-z0-9_-]{4,}`)
	stopwords      = map[string]bool{"please": true, "task": true, "with": true, "this": true, "that": true, "from": true, "then": true}
	closingMarkers = []string{"summary", "conclusion", "next step", "recommend"}
)

// HybridEvaluator combines deterministic rule dimensions with an optional
// judge. With a judge the overall score is
// round(RuleWeight*rule + (1-RuleWeight)*judge); without one it is the rule
// score. Scores strictly below Threshold fail.
type HybridEvaluator struct {
	Threshold  int
	RuleWeight float64
	Judge      Judge
	Logger     *log.Logger
}

// NewHybridEvaluator creates an evaluator with the default threshold and
// weighting. judge may be nil.
func NewHybridEvaluator(judge Judge, logger *log.Logger) *HybridEvaluator {
	return &HybridEvaluator{
		Threshold:  DefaultThreshold,
		RuleWeight: DefaultRuleWeight,
		Judge:      judge,
		Logger:     logger,
	}
}

// Evaluate scores one task.
func (e *HybridEvaluator) Evaluate(ctx context.Context, in Input) Report {
	dims := map[string]int{
		DimensionCompleteness:    scoreCompleteness(in),
		DimensionExecutionHealth: scoreExecutionHealth(in),
		DimensionEfficiency:      scoreEfficiency(in),
	}
	ruleScore := average(dims)

	report := Report{
		TaskName:   in.TaskName,
		RuleScore:  ruleScore,
		Score:      ruleScore,
		Dimensions: dims,
		Threshold:  e.Threshold,
	}

	var judgeReasons []string
	if e.Judge != nil {
		j, err := e.Judge.Judge(ctx, in)
		switch {
		case err != nil:
			if e.Logger != nil {
				e.Logger.WithError(err).Warn("judge failed, using rule score", "task", in.TaskName)
			}
		case len(j.Dimensions) > 0:
			judged := make(map[string]int, len(j.Dimensions))
			for k, v := range j.Dimensions {
				judged[k] = clamp(v)
				if _, clash := dims[k]; !clash {
					dims[k] = clamp(v)
				}
			}
			judgeScore := average(judged)
			report.JudgeScore = &judgeScore
			report.Score = int(math.Round(e.RuleWeight*float64(ruleScore) + (1-e.RuleWeight)*float64(judgeScore)))
			judgeReasons = j.Reasons
		}
	}

	report.Passed = report.Score >= e.Threshold
	report.Reasons = reasons(in, judgeReasons)
	report.Suggestions = suggestions(dims)
	return report
}

func scoreCompleteness(in Input) int {
	text := strings.TrimSpace(in.Output)
	if text == "" {
		return 0
	}

	score := 35
	switch n := len([]rune(text)); {
	case n >= 60:
		score += 20
	case n >= 30:
		score += 10
	}

	lower := strings.ToLower(text)
	if kws := keywords(in.Description); len(kws) > 0 {
		hits := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		score += int(math.Round(35 * float64(hits) / float64(len(kws))))
	}

	for _, marker := range closingMarkers {
		if strings.Contains(lower, marker) {
			score += 10
			break
		}
	}
	return clamp(score)
}

func scoreExecutionHealth(in Input) int {
	score := 100

	if len(in.ToolTrace) > 0 {
		failed := 0
		for _, call := range in.ToolTrace {
			if call.Error != "" {
				failed++
			}
		}
		score -= int(math.Round(60 * float64(failed) / float64(len(in.ToolTrace))))
	}

	if in.Attempts > 1 {
		score -= min(30, 10*(in.Attempts-1))
	}

	if !in.Verdict.Passed {
		if in.Verdict.Severity.IsBlocking() {
			score -= 40
		} else {
			score -= 20
		}
	}
	return clamp(score)
}

func scoreEfficiency(in Input) int {
	score := 90
	if total := len(in.ToolTrace); total > 0 {
		switch {
		case total <= 3:
			score = 100
		case total <= 6:
			score = 85
		case total <= 10:
			score = 70
		default:
			score = 55
		}

		unique := make(map[string]bool, total)
		for _, call := range in.ToolTrace {
			unique[call.Tool] = true
		}
		repeat := 1 - float64(len(unique))/float64(total)
		score -= int(math.Round(repeat * 30))
	}

	if in.Timeout > 0 && in.Duration > in.Timeout*8/10 {
		score -= 15
	}
	return clamp(score)
}

func keywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range keywordPattern.FindAllString(text, -1) {
		lower := strings.ToLower(tok)
		if stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

func reasons(in Input, judge []string) []string {
	var out []string
	if strings.TrimSpace(in.Output) == "" {
		out = append(out, "output is empty")
	}
	if !in.Verdict.Passed {
		out = append(out, fmt.Sprintf("validation failed: %s", in.Verdict.PolicyID))
	}
	failed := 0
	for _, call := range in.ToolTrace {
		if call.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		out = append(out, fmt.Sprintf("%d tool call(s) failed", failed))
	}
	if in.Attempts > 1 {
		out = append(out, fmt.Sprintf("needed %d attempts", in.Attempts))
	}
	for _, r := range judge {
		if len(out) >= maxReasons {
			break
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, "execution looks healthy")
	}
	if len(out) > maxReasons {
		out = out[:maxReasons]
	}
	return out
}

func suggestions(dims map[string]int) []string {
	var out []string
	if dims[DimensionCompleteness] < 60 {
		out = append(out, "state a clear conclusion with its evidence and next steps")
	}
	if dims[DimensionExecutionHealth] < 60 {
		out = append(out, "address failing tool calls and validation findings first")
	}
	if dims[DimensionEfficiency] < 60 {
		out = append(out, "avoid repeated tool calls and batch similar operations")
	}
	if len(out) == 0 {
		out = append(out, "keep the current approach")
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func average(dims map[string]int) int {
	if len(dims) == 0 {
		return 0
	}
	sum := 0
	for _, v := range dims {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(dims))))
}

func clamp(v int) int {
	return max(0, min(100, v))
}
