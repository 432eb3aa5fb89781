package cmd

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/envelope"
	"github.com/felixgeelhaar/dispatch/internal/eval"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
	"github.com/felixgeelhaar/dispatch/internal/policy"
	"github.com/felixgeelhaar/dispatch/internal/registry"
	"github.com/felixgeelhaar/dispatch/internal/scheduler"
	"github.com/felixgeelhaar/dispatch/internal/validation"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// app holds the components of one process built from configuration.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	registry  *registry.Registry
	pipeline  *validation.Pipeline
	store     audit.Store
	gatherer  prometheus.Gatherer
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
}

// newApp wires a scheduler from cfg. Close releases the audit store.
func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	reg, err := buildRegistry(cfg.Capabilities, cfg.Scheduler.CancelGrace)
	if err != nil {
		return nil, err
	}

	pipe, err := loadPipeline(cfg.Validation.PolicyFile)
	if err != nil {
		return nil, err
	}

	store, err := openAuditStore(cfg.Audit, logger)
	if err != nil {
		return nil, err
	}

	promReg, m := metrics.NewRegistry()

	asm := &envelope.Assembler{
		Summarizer:       cfg.Context.NewSummarizer(),
		FindingCap:       cfg.Context.FindingCapTokens,
		MinFindingTokens: cfg.Context.MinFindingTokens,
		Constraints:      pipe.HardConstraints(),
		Tools:            reg,
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(m),
	}
	if cfg.Evaluation.Enabled {
		ev := eval.NewHybridEvaluator(nil, logger)
		ev.Threshold = cfg.Evaluation.WarnThreshold
		ev.RuleWeight = cfg.Evaluation.RuleWeight
		opts = append(opts, scheduler.WithEvaluator(ev))
	}

	sched := scheduler.New(cfg.SchedulerConfig(), reg, asm, pipe, audit.NewLog(store), opts...)

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		pipeline:  pipe,
		store:     store,
		gatherer:  promReg,
		metrics:   m,
		scheduler: sched,
	}, nil
}

// Close releases the audit store.
func (a *app) Close() error {
	return a.store.Close()
}

// buildRegistry registers one worker per configured capability.
func buildRegistry(caps []config.CapabilityConfig, grace time.Duration) (*registry.Registry, error) {
	reg := registry.New()
	for _, c := range caps {
		handle, err := newWorker(c, grace)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", c.Name, err)
		}
		if err := reg.Register(c.Name, c.Description, c.Tools, handle); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newWorker(c config.CapabilityConfig, grace time.Duration) (worker.Handle, error) {
	switch c.Kind {
	case config.KindEcho:
		return worker.Echo(), nil
	case config.KindFixture:
		return worker.Fixture(c.Output), nil
	case config.KindExec:
		return worker.NewExecutable(c.Command, c.Args, grace)
	default:
		return nil, fmt.Errorf("unknown worker kind %q", c.Kind)
	}
}

// loadPipeline compiles the policy at path, or the built-in policy when
// path is empty.
func loadPipeline(path string) (*validation.Pipeline, error) {
	if path == "" {
		return validation.NewDefault()
	}
	p, err := policy.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	compiled, err := p.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", path, err)
	}
	return validation.New(compiled), nil
}

// openAuditStore opens the configured audit sink.
func openAuditStore(cfg config.AuditConfig, logger *log.Logger) (audit.Store, error) {
	switch cfg.Sink {
	case config.SinkMemory:
		return audit.NewMemorySink(), nil
	case config.SinkBadger:
		return audit.OpenBadgerSink(audit.BadgerConfig{Path: cfg.Dir, Logger: logger.Slog()})
	case config.SinkFile, "":
		return audit.NewFileSink(cfg.Dir)
	default:
		return nil, stderrors.New("unknown audit sink: " + cfg.Sink)
	}
}
