// Package scheduler executes compiled plans layer by layer.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/envelope"
	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/eval"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/registry"
	"github.com/felixgeelhaar/dispatch/internal/telemetry"
	"github.com/felixgeelhaar/dispatch/internal/validation"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// Run states, as logged.
const (
	statePlanning    = "planning"
	stateExecuting   = "executing"
	stateAggregating = "aggregating"
	stateDone        = "done"
	stateFailed      = "failed"
)

// Request carries the caller side of one run.
type Request struct {
	// RequestID correlates every audit event of the run. A UUID is
	// generated when empty.
	RequestID string
	// Objective is the user goal the plan serves, shown to every worker.
	Objective string
	// History is the conversation preceding the run, oldest first.
	History []envelope.Message
}

// Evaluator scores executed tasks. Reports are recorded, never acted on.
type Evaluator interface {
	Evaluate(ctx context.Context, in eval.Input) eval.Report
}

// Scheduler runs plans against a capability registry. A Scheduler holds no
// per-run state and may execute several runs concurrently.
type Scheduler struct {
	cfg       Config
	registry  *registry.Registry
	assembler *envelope.Assembler
	pipeline  *validation.Pipeline
	audit     *audit.Log
	evaluator Evaluator
	metrics   *metrics.Metrics
	logger    *log.Logger
	sleep     Sleeper
	newID     func() string
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEvaluator records an evaluation for every executed task.
func WithEvaluator(e Evaluator) Option {
	return func(s *Scheduler) { s.evaluator = e }
}

// WithMetrics sets the metrics the scheduler reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSleeper replaces the wait between retries.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

// WithClock replaces the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler.
func New(cfg Config, reg *registry.Registry, asm *envelope.Assembler, pipe *validation.Pipeline, auditLog *audit.Log, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.normalized(),
		registry:  reg,
		assembler: asm,
		pipeline:  pipe,
		audit:     auditLog,
		logger:    log.DefaultLogger(),
		sleep:     sleepContext,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		_, s.metrics = metrics.NewRegistry()
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run compiles raw and executes it.
//
// The aggregate is returned whenever the run got far enough to produce one,
// including alongside an error. Errors are returned only for a request id
// the audit log already holds (AUDIT-006, no aggregate), a rejected plan
// (*plan.CompileError), an exceeded run deadline (ErrRunDeadlineExceeded),
// cancellation (ErrRunCancelled) and audit write failures. Task failures
// are reported in the aggregate.
func (s *Scheduler) Run(ctx context.Context, raw plan.RawPlan, req Request) (*finding.Aggregate, error) {
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	started := s.now()
	logger := s.logger.WithRun(req.RequestID)
	auditCtx := context.WithoutCancel(ctx)

	if err := s.audit.Begin(auditCtx, req.RequestID); err != nil {
		s.metrics.RecordError(string(errors.CodeOf(err)), "audit")
		logger.WithError(err).Error("request id rejected")
		return nil, err
	}

	logger.Info("run state changed", "state", statePlanning, "tasks", len(raw.Tasks))
	compiled, err := plan.Compile(raw, s.registry)
	if err != nil {
		return s.reject(auditCtx, logger, req.RequestID, raw, err, started)
	}

	ctx, span := telemetry.StartRunSpan(ctx, req.RequestID, string(compiled.Mode), compiled.Len())
	defer span.End()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r := &run{
		s:        s,
		id:       req.RequestID,
		req:      req,
		plan:     compiled,
		asm:      s.assembler.ForRun(req.RequestID, req.Objective),
		store:    finding.NewStore(),
		logger:   logger,
		auditCtx: auditCtx,
	}

	r.record("", audit.EventPlan, audit.PlanPayload{
		ExecutionMode: compiled.Mode,
		Plan:          compiled.Raw(),
		Layers:        compiled.Layers,
		PlanHash:      compiled.Hash,
		Objective:     req.Objective,
	})
	s.metrics.RecordPlan(compiled.Len(), len(compiled.Layers))

	logger.Info("run state changed", "state", stateExecuting,
		"mode", compiled.Mode, "layers", len(compiled.Layers), "plan_hash", compiled.Hash)
	for i, layer := range compiled.Layers {
		r.runLayer(runCtx, i, layer)
	}

	logger.Info("run state changed", "state", stateAggregating)

	var runErr *errors.DispatchError
	switch r.interrupted {
	case validation.PolicyRunDeadline:
		runErr = errors.NewRunDeadlineError(r.id)
	case validation.PolicyRunCancelled:
		runErr = errors.NewRunCancelledError(r.id, runCtx.Err())
	}

	message := ""
	if runErr != nil {
		message = runErr.Message
		r.record("", audit.EventError, audit.ErrorPayload{
			Code:     string(runErr.Code),
			Kind:     r.interrupted,
			PolicyID: r.interrupted,
			Message:  message,
		})
		s.metrics.RecordError(string(runErr.Code), "scheduler")
	}

	agg := finding.NewAggregate(r.id, compiled.Hash, compiled.Layers, r.store, message)
	r.record("", audit.EventAggregate, audit.AggregatePayload{Aggregate: agg})
	s.metrics.RecordRun(string(compiled.Mode), string(agg.Status), s.now().Sub(started))

	if runErr != nil {
		telemetry.RecordError(span, runErr)
		logger.WithError(runErr).Warn("run state changed", "state", stateFailed, "status", agg.Status)
		return &agg, runErr
	}

	logger.Info("run state changed", "state", stateDone, "status", agg.Status,
		"succeeded", len(agg.Succeeded), "failed", len(agg.Failed), "skipped", len(agg.Skipped))
	if r.auditErr != nil {
		telemetry.RecordError(span, r.auditErr)
		return &agg, r.auditErr
	}
	telemetry.RecordSuccess(span)
	return &agg, nil
}

// reject records a plan that failed to compile. No task events follow.
func (s *Scheduler) reject(ctx context.Context, logger *log.Logger, requestID string, raw plan.RawPlan, err error, started time.Time) (*finding.Aggregate, error) {
	kind := string(plan.KindInvalid)
	var ce *plan.CompileError
	if stderrors.As(err, &ce) {
		kind = string(ce.Kind)
	}
	code := errors.CodeOf(err)

	if aerr := s.record(ctx, logger, requestID, "", audit.EventError, audit.ErrorPayload{
		Code:    string(code),
		Kind:    kind,
		Message: err.Error(),
	}); aerr != nil {
		err = stderrors.Join(err, aerr)
	}

	mode := string(raw.ExecutionMode)
	if mode == "" {
		mode = string(plan.ModeSequential)
	}
	s.metrics.PlanRejects.WithLabelValues(kind).Inc()
	s.metrics.RecordError(string(code), "compiler")
	s.metrics.RecordRun(mode, string(finding.StatusFailedToStart), s.now().Sub(started))

	logger.WithError(err).Warn("run state changed", "state", stateFailed, "kind", kind)
	agg := finding.NewFailedToStart(requestID, err)
	return &agg, err
}

// record appends one audit event, counting the outcome.
func (s *Scheduler) record(ctx context.Context, logger *log.Logger, requestID, taskName string, typ audit.EventType, payload any) error {
	if _, err := s.audit.Append(ctx, requestID, taskName, typ, payload); err != nil {
		s.metrics.AuditWriteErrors.Inc()
		s.metrics.RecordError(string(errors.CodeOf(err)), "audit")
		logger.WithError(err).Error("audit write failed", "event_type", typ, "task", taskName)
		return err
	}
	s.metrics.AuditEvents.WithLabelValues(string(typ)).Inc()
	return nil
}

// run is the state of one execution. Everything except failFast is owned
// by the coordinating goroutine.
type run struct {
	s        *Scheduler
	id       string
	req      Request
	plan     *plan.CompiledPlan
	asm      *envelope.Assembler
	store    *finding.Store
	logger   *log.Logger
	auditCtx context.Context

	failFast    atomic.Bool
	interrupted string
	auditErr    error
}

func (r *run) record(taskName string, typ audit.EventType, payload any) {
	if err := r.s.record(r.auditCtx, r.logger, r.id, taskName, typ, payload); err != nil && r.auditErr == nil {
		r.auditErr = err
	}
}

// dispatched is a task whose envelope is ready.
type dispatched struct {
	task   plan.SubTask
	layer  int
	handle worker.Handle
	env    *envelope.Envelope
}
