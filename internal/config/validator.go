package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/dispatch/internal/domain"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.max_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// ValidSinks returns the list of valid audit sinks
func ValidSinks() []string {
	return []string{SinkFile, SinkBadger, SinkMemory}
}

// ValidWorkerKinds returns the list of valid capability worker kinds
func ValidWorkerKinds() []string {
	return []string{KindEcho, KindFixture, KindExec}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateContext()...)
	errors = append(errors, c.validateEvaluation()...)
	errors = append(errors, c.validateAudit()...)
	errors = append(errors, c.validateLog()...)
	errors = append(errors, c.validateTelemetry()...)
	errors = append(errors, c.validateCapabilities()...)

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError
	s := c.Scheduler

	if s.MaxConcurrency < 1 {
		errors = append(errors, ValidationError{Field: "scheduler.max_concurrency", Value: s.MaxConcurrency, Message: "must be at least 1"})
	}
	if s.TaskTimeout < 0 {
		errors = append(errors, ValidationError{Field: "scheduler.task_timeout", Value: s.TaskTimeout, Message: "must be non-negative"})
	}
	if s.MaxRetries < 0 {
		errors = append(errors, ValidationError{Field: "scheduler.max_retries", Value: s.MaxRetries, Message: "must be non-negative"})
	}
	if s.Backoff.Initial < 0 {
		errors = append(errors, ValidationError{Field: "scheduler.backoff.initial", Value: s.Backoff.Initial, Message: "must be non-negative"})
	}
	if s.Backoff.Multiplier < 1 {
		errors = append(errors, ValidationError{Field: "scheduler.backoff.multiplier", Value: s.Backoff.Multiplier, Message: "must be at least 1"})
	}
	if s.Backoff.Max < s.Backoff.Initial {
		errors = append(errors, ValidationError{Field: "scheduler.backoff.max", Value: s.Backoff.Max, Message: "must not be below scheduler.backoff.initial"})
	}
	if s.RunTimeout < 0 {
		errors = append(errors, ValidationError{Field: "scheduler.run_timeout", Value: s.RunTimeout, Message: "must be non-negative"})
	}
	if s.CancelGrace < 0 {
		errors = append(errors, ValidationError{Field: "scheduler.cancel_grace", Value: s.CancelGrace, Message: "must be non-negative"})
	}

	return errors
}

func (c *Config) validateContext() []ValidationError {
	var errors []ValidationError
	x := c.Context

	if x.BudgetTokens <= 0 {
		errors = append(errors, ValidationError{Field: "context.budget_tokens", Value: x.BudgetTokens, Message: "must be positive"})
	}
	if x.FindingCapTokens <= 0 {
		errors = append(errors, ValidationError{Field: "context.finding_cap_tokens", Value: x.FindingCapTokens, Message: "must be positive"})
	}
	if x.MinFindingTokens < 0 || (x.FindingCapTokens > 0 && x.MinFindingTokens > x.FindingCapTokens) {
		errors = append(errors, ValidationError{Field: "context.min_finding_tokens", Value: x.MinFindingTokens, Message: "must be between 0 and context.finding_cap_tokens"})
	}
	if x.Summarizer != "" && !slices.Contains([]string{"signal", "identity"}, x.Summarizer) {
		errors = append(errors, ValidationError{Field: "context.summarizer", Value: x.Summarizer, Message: "must be one of: signal, identity"})
	}

	return errors
}

func (c *Config) validateEvaluation() []ValidationError {
	var errors []ValidationError

	if c.Evaluation.WarnThreshold < 0 || c.Evaluation.WarnThreshold > 100 {
		errors = append(errors, ValidationError{Field: "evaluation.warn_threshold", Value: c.Evaluation.WarnThreshold, Message: "must be between 0 and 100"})
	}
	if c.Evaluation.RuleWeight < 0 || c.Evaluation.RuleWeight > 1 {
		errors = append(errors, ValidationError{Field: "evaluation.rule_weight", Value: c.Evaluation.RuleWeight, Message: "must be between 0 and 1"})
	}

	return errors
}

func (c *Config) validateAudit() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidSinks(), c.Audit.Sink) {
		errors = append(errors, ValidationError{
			Field:   "audit.sink",
			Value:   c.Audit.Sink,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSinks(), ", ")),
		})
	}
	if c.Audit.Sink != SinkMemory && strings.TrimSpace(c.Audit.Dir) == "" {
		errors = append(errors, ValidationError{Field: "audit.dir", Value: c.Audit.Dir, Message: "is required for persistent sinks"})
	}

	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError

	if c.Log.Level != "" && !slices.Contains(ValidLogLevels(), c.Log.Level) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Log.Format != "" && !slices.Contains(ValidLogFormats(), c.Log.Format) {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateTelemetry() []ValidationError {
	var errors []ValidationError
	t := c.Telemetry

	if !t.Enabled {
		return nil
	}
	if !slices.Contains([]string{"otlp", "stdout"}, t.Exporter) {
		errors = append(errors, ValidationError{Field: "telemetry.exporter", Value: t.Exporter, Message: "must be one of: otlp, stdout"})
	}
	if t.Exporter == "otlp" && t.Endpoint == "" {
		errors = append(errors, ValidationError{Field: "telemetry.endpoint", Value: t.Endpoint, Message: "is required for the otlp exporter"})
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errors = append(errors, ValidationError{Field: "telemetry.sample_rate", Value: t.SampleRate, Message: "must be between 0 and 1"})
	}

	return errors
}

func (c *Config) validateCapabilities() []ValidationError {
	var errors []ValidationError

	if len(c.Capabilities) == 0 {
		return []ValidationError{{Field: "capabilities", Value: 0, Message: "at least one capability is required"}}
	}

	seen := make(map[string]bool, len(c.Capabilities))
	for i, capCfg := range c.Capabilities {
		field := fmt.Sprintf("capabilities[%d]", i)

		if err := domain.Capability(capCfg.Name).Validate(); err != nil {
			errors = append(errors, ValidationError{Field: field + ".name", Value: capCfg.Name, Message: err.Error()})
		} else if seen[capCfg.Name] {
			errors = append(errors, ValidationError{Field: field + ".name", Value: capCfg.Name, Message: "duplicate capability"})
		}
		seen[capCfg.Name] = true

		if !slices.Contains(ValidWorkerKinds(), capCfg.Kind) {
			errors = append(errors, ValidationError{
				Field:   field + ".kind",
				Value:   capCfg.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidWorkerKinds(), ", ")),
			})
		}
		if capCfg.Kind == KindExec && capCfg.Command == "" {
			errors = append(errors, ValidationError{Field: field + ".command", Value: capCfg.Command, Message: "is required for exec workers"})
		}
	}

	return errors
}
