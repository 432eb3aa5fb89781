// Package config loads dispatch configuration from defaults, an optional
// YAML file and DISPATCH_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/felixgeelhaar/dispatch/internal/envelope"
	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/eval"
	"github.com/felixgeelhaar/dispatch/internal/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. DISPATCH_LOG_LEVEL.
const EnvPrefix = "DISPATCH"

// Config represents the complete dispatch configuration
type Config struct {
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Context      ContextConfig      `mapstructure:"context"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Log          LogConfig          `mapstructure:"log"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Capabilities []CapabilityConfig `mapstructure:"capabilities"`
}

// SchedulerConfig controls plan execution
type SchedulerConfig struct {
	// MaxConcurrency bounds worker invocations in flight within a parallel layer
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// TaskTimeout bounds each worker attempt (0 = disabled)
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// MaxRetries is the number of attempts after the first
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    BackoffConfig `mapstructure:"backoff"`
	// RunTimeout bounds a whole run (0 = disabled)
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	CancelGrace time.Duration `mapstructure:"cancel_grace"`
	FailFast    bool          `mapstructure:"fail_fast"`
}

// BackoffConfig is the retry delay schedule
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
}

// ContextConfig controls envelope assembly
type ContextConfig struct {
	BudgetTokens     int `mapstructure:"budget_tokens"`
	FindingCapTokens int `mapstructure:"finding_cap_tokens"`
	MinFindingTokens int `mapstructure:"min_finding_tokens"`
	// Summarizer is "signal" or "identity"
	Summarizer string `mapstructure:"summarizer"`
}

// ValidationConfig selects the policy document
type ValidationConfig struct {
	// PolicyFile is a YAML policy; empty means the built-in policy
	PolicyFile string `mapstructure:"policy_file"`
}

// EvaluationConfig controls the advisory evaluator
type EvaluationConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	WarnThreshold int     `mapstructure:"warn_threshold"`
	RuleWeight    float64 `mapstructure:"rule_weight"`
}

// AuditConfig selects where audit events are persisted
type AuditConfig struct {
	// Sink is "file", "badger" or "memory"
	Sink string `mapstructure:"sink"`
	Dir  string `mapstructure:"dir"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls trace export
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "otlp" or "stdout"
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090"
	Addr string `mapstructure:"addr"`
}

// CapabilityConfig registers one worker
type CapabilityConfig struct {
	Name        string   `mapstructure:"name"`
	Kind        string   `mapstructure:"kind"`
	Description string   `mapstructure:"description"`
	Tools       []string `mapstructure:"tools"`
	// Output is the canned output of a fixture worker
	Output string `mapstructure:"output"`
	// Command and Args start an exec worker
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// Worker kinds
const (
	KindEcho    = "echo"
	KindFixture = "fixture"
	KindExec    = "exec"
)

// Audit sinks
const (
	SinkFile   = "file"
	SinkBadger = "badger"
	SinkMemory = "memory"
)

// Default returns a Config with sensible default values
func Default() *Config {
	sched := scheduler.DefaultConfig()
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrency: sched.MaxConcurrency,
			TaskTimeout:    sched.TaskTimeout,
			MaxRetries:     sched.MaxRetries,
			Backoff: BackoffConfig{
				Initial:    sched.Backoff.Initial,
				Multiplier: sched.Backoff.Multiplier,
				Max:        sched.Backoff.Max,
			},
			RunTimeout:  0, // no run deadline
			CancelGrace: sched.CancelGrace,
			FailFast:    false,
		},
		Context: ContextConfig{
			BudgetTokens:     int(sched.Budget),
			FindingCapTokens: envelope.DefaultFindingCap,
			MinFindingTokens: envelope.DefaultMinFindingTokens,
			Summarizer:       "signal",
		},
		Evaluation: EvaluationConfig{
			Enabled:       true,
			WarnThreshold: eval.DefaultThreshold,
			RuleWeight:    eval.DefaultRuleWeight,
		},
		Audit: AuditConfig{
			Sink: SinkFile,
			Dir:  ".dispatch/audit",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
		Capabilities: []CapabilityConfig{
			{Name: "general", Kind: KindEcho, Description: "General reasoning over upstream findings"},
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.task_timeout", d.Scheduler.TaskTimeout)
	v.SetDefault("scheduler.max_retries", d.Scheduler.MaxRetries)
	v.SetDefault("scheduler.backoff.initial", d.Scheduler.Backoff.Initial)
	v.SetDefault("scheduler.backoff.multiplier", d.Scheduler.Backoff.Multiplier)
	v.SetDefault("scheduler.backoff.max", d.Scheduler.Backoff.Max)
	v.SetDefault("scheduler.run_timeout", d.Scheduler.RunTimeout)
	v.SetDefault("scheduler.cancel_grace", d.Scheduler.CancelGrace)
	v.SetDefault("scheduler.fail_fast", d.Scheduler.FailFast)

	v.SetDefault("context.budget_tokens", d.Context.BudgetTokens)
	v.SetDefault("context.finding_cap_tokens", d.Context.FindingCapTokens)
	v.SetDefault("context.min_finding_tokens", d.Context.MinFindingTokens)
	v.SetDefault("context.summarizer", d.Context.Summarizer)

	v.SetDefault("validation.policy_file", d.Validation.PolicyFile)

	v.SetDefault("evaluation.enabled", d.Evaluation.Enabled)
	v.SetDefault("evaluation.warn_threshold", d.Evaluation.WarnThreshold)
	v.SetDefault("evaluation.rule_weight", d.Evaluation.RuleWeight)

	v.SetDefault("audit.sink", d.Audit.Sink)
	v.SetDefault("audit.dir", d.Audit.Dir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.exporter", d.Telemetry.Exporter)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	caps := make([]map[string]any, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		caps = append(caps, map[string]any{"name": c.Name, "kind": c.Kind, "description": c.Description})
	}
	v.SetDefault("capabilities", caps)
}

// New returns a viper instance with defaults and environment overrides
// registered.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) on top of the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigRead, "failed to read config file "+path, err).
				WithSuggestion("Check the file exists and is valid YAML")
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "invalid configuration", ValidationErrors(errs))
	}
	return cfg, nil
}

// SchedulerConfig converts the scheduler and context sections.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrency: c.Scheduler.MaxConcurrency,
		TaskTimeout:    c.Scheduler.TaskTimeout,
		MaxRetries:     c.Scheduler.MaxRetries,
		Backoff: scheduler.Backoff{
			Initial:    c.Scheduler.Backoff.Initial,
			Multiplier: c.Scheduler.Backoff.Multiplier,
			Max:        c.Scheduler.Backoff.Max,
		},
		RunTimeout:  c.Scheduler.RunTimeout,
		CancelGrace: c.Scheduler.CancelGrace,
		FailFast:    c.Scheduler.FailFast,
		Budget:      envelope.TokenBudget(c.Context.BudgetTokens),
	}
}

// NewSummarizer returns the configured finding summarizer.
func (c *ContextConfig) NewSummarizer() envelope.Summarizer {
	if c.Summarizer == "identity" {
		return envelope.Identity
	}
	return envelope.NewSignalSummarizer()
}
