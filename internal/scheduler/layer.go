package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/domain"
	"github.com/felixgeelhaar/dispatch/internal/envelope"
	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/eval"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/telemetry"
	"github.com/felixgeelhaar/dispatch/internal/validation"
)

type messageKind int

const (
	msgNotStarted messageKind = iota
	msgStarted
	msgAttempt
	msgSettled
)

// message reports task progress to the coordinator, which performs every
// store and audit write.
type message struct {
	kind     messageKind
	task     *dispatched
	reason   string
	attempt  audit.ExecutionPayload
	outcome  outcome
	timedOut bool
	// ack is closed once a settled message has been handled.
	ack chan struct{}
}

// runLayer executes one layer. It returns once every task of the layer has
// a finding.
func (r *run) runLayer(ctx context.Context, index int, names []string) {
	ctx, span := telemetry.StartLayerSpan(ctx, index, names)
	defer span.End()

	r.logger.Debug("executing layer", "layer", index, "tasks", names)

	if r.plan.Mode == plan.ModeSequential {
		for _, name := range names {
			if t := r.prepare(ctx, index, name); t != nil {
				r.execute(ctx, t, func(m message) { r.handle(ctx, m) })
			}
		}
		return
	}

	var ready []*dispatched
	for _, name := range names {
		if t := r.prepare(ctx, index, name); t != nil {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return
	}

	msgs := make(chan message)
	emit := func(m message) {
		if m.kind == msgSettled {
			m.ack = make(chan struct{})
			msgs <- m
			<-m.ack
			return
		}
		msgs <- m
	}

	go func() {
		var g errgroup.Group
		g.SetLimit(r.s.cfg.MaxConcurrency)
		// Go blocks while the limit is reached, so tasks start in name order.
		for _, t := range ready {
			g.Go(func() error {
				r.execute(ctx, t, emit)
				return nil
			})
		}
		_ = g.Wait()
		close(msgs)
	}()

	for m := range msgs {
		r.handle(ctx, m)
		if m.ack != nil {
			close(m.ack)
		}
	}
}

// runPolicy reports why the run context ended, or "".
func runPolicy(ctx context.Context) string {
	switch {
	case ctx.Err() == nil:
		return ""
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return validation.PolicyRunDeadline
	default:
		return validation.PolicyRunCancelled
	}
}

// haltReason reports why no further task may start, or "".
func (r *run) haltReason(ctx context.Context) string {
	if policy := runPolicy(ctx); policy != "" {
		return policy
	}
	if r.failFast.Load() {
		return validation.PolicyFailFast
	}
	return ""
}

func haltMessage(policy string) string {
	switch policy {
	case validation.PolicyRunDeadline:
		return "run deadline exceeded before the task started"
	case validation.PolicyRunCancelled:
		return "run cancelled before the task started"
	default:
		return "an earlier task failed and fail_fast is set"
	}
}

// prepare settles tasks that cannot run and builds the envelope of the
// others. It returns nil for a settled task.
func (r *run) prepare(ctx context.Context, layer int, name string) *dispatched {
	task, _ := r.plan.Task(name)

	if reason := r.haltReason(ctx); reason != "" {
		r.skip(task, layer, reason, haltMessage(reason))
		return nil
	}

	for _, dep := range task.DependsOn {
		f, ok := r.store.Get(dep)
		if ok && f.Succeeded() {
			continue
		}
		state := "did not run"
		if ok {
			state = string(f.State)
		}
		r.skip(task, layer, validation.PolicyUpstreamFailure, fmt.Sprintf("dependency %s %s", dep, state))
		return nil
	}

	handle, err := r.s.registry.Resolve(task.Capability.String())
	if err != nil {
		r.fail(task, layer, validation.PolicyWorkerError, "unresolved_capability", err)
		return nil
	}

	env, err := r.asm.Assemble(task, r.store, r.req.History, r.s.cfg.Budget)
	if err != nil {
		var be *envelope.BudgetExceededError
		if stderrors.As(err, &be) {
			r.s.metrics.BudgetExceeded.WithLabelValues(be.Section).Inc()
		}
		r.fail(task, layer, validation.PolicyBudgetExceeded, "budget_exceeded", err)
		return nil
	}

	report := env.BudgetReport
	r.s.metrics.EnvelopeTokens.WithLabelValues(envelope.SectionTaskSummary).Observe(float64(report.TaskSummary.Consumed))
	r.s.metrics.EnvelopeTokens.WithLabelValues(envelope.SectionHardConstraints).Observe(float64(report.HardConstraints.Consumed))
	r.s.metrics.EnvelopeTokens.WithLabelValues(envelope.SectionAllowlist).Observe(float64(report.Allowlist.Consumed))
	r.s.metrics.EnvelopeTokens.WithLabelValues(envelope.SectionFindings).Observe(float64(report.RelevantFindings.Consumed))
	r.s.metrics.EnvelopeTokens.WithLabelValues(envelope.SectionHistory).Observe(float64(report.HistorySlice.Consumed))

	return &dispatched{task: task, layer: layer, handle: handle, env: env}
}

// handle applies one progress message. Only the coordinator calls it.
func (r *run) handle(ctx context.Context, m message) {
	t := m.task
	logger := r.logger.WithTask(t.task.Name, t.task.Capability.String())

	switch m.kind {
	case msgNotStarted:
		r.skip(t.task, t.layer, m.reason, haltMessage(m.reason))

	case msgStarted:
		r.record(t.task.Name, audit.EventDispatch, audit.DispatchPayload{
			Capability: t.task.Capability.String(),
			Layer:      t.layer,
			DependsOn:  t.task.DependsOn,
			Allowlist:  t.env.Allowlist,
			Budget:     t.env.BudgetReport,
		})
		logger.Info("task dispatched", "layer", t.layer, "budget_consumed", t.env.BudgetReport.Consumed)

	case msgAttempt:
		r.record(t.task.Name, audit.EventExecution, m.attempt)
		outcome := "ok"
		switch {
		case m.timedOut:
			outcome = "timeout"
		case m.attempt.Error != "":
			outcome = "error"
		}
		r.s.metrics.RecordAttempt(t.task.Capability.String(), outcome)
		if m.attempt.RetryIn > 0 {
			logger.Warn("retrying task", "attempt", m.attempt.Attempt, "retry_in", m.attempt.RetryIn, "error", m.attempt.Error)
		}

	case msgSettled:
		r.settleExecuted(ctx, t, m.outcome)
	}
}

// settleExecuted turns the outcome of an executed task into its finding.
func (r *run) settleExecuted(ctx context.Context, t *dispatched, o outcome) {
	capability := t.task.Capability.String()
	f := finding.Finding{
		TaskName:   t.task.Name,
		Capability: capability,
		Layer:      t.layer,
		RawOutput:  r.scrub(o.result.Output),
		Duration:   o.duration,
		Attempts:   o.attempts,
	}

	var failure *audit.ErrorPayload
	switch {
	case o.interrupted != "":
		msg := r.scrub(o.err.Error())
		f.State = plan.StateFailed
		f.Verdict = validation.Failure(o.interrupted, domain.SeverityMedium, msg)
		failure = &audit.ErrorPayload{
			Code:     string(errors.CodeOf(o.err)),
			Kind:     "interrupted",
			PolicyID: o.interrupted,
			Message:  msg,
		}

	case o.err != nil:
		policy, kind := validation.PolicyWorkerError, "worker_error"
		var timeout *WorkerTimeoutError
		if stderrors.As(o.err, &timeout) {
			policy, kind = validation.PolicyWorkerTimeout, "worker_timeout"
		}
		msg := r.scrub(o.err.Error())
		f.State = plan.StateFailed
		f.Verdict = validation.Failure(policy, domain.SeverityMedium,
			fmt.Sprintf("worker failed after %d attempts: %s", o.attempts, msg))
		failure = &audit.ErrorPayload{
			Code:     string(errors.CodeOf(o.err)),
			Kind:     kind,
			PolicyID: policy,
			Message:  msg,
		}

	default:
		verdict, validated := r.s.pipeline.Validate(capability, o.result.Output,
			validation.Context{RequestID: r.id, TaskName: t.task.Name})
		f.Verdict = verdict
		f.ValidatedOutput = validated
		f.State = plan.StateSucceeded
		if !verdict.Passed {
			f.State = plan.StateFailed
		}

		ids := make([]string, 0, len(verdict.Redactions))
		for _, span := range verdict.Redactions {
			ids = append(ids, span.PolicyID)
		}
		r.s.metrics.RecordVerdict(verdict.Passed, verdict.PolicyID, verdict.Severity.String(), ids)
	}

	if r.s.evaluator != nil {
		output := f.ValidatedOutput
		if output == "" {
			output = f.RawOutput
		}
		report := r.s.evaluator.Evaluate(ctx, eval.Input{
			TaskName:    t.task.Name,
			Capability:  capability,
			Description: t.task.Description,
			Output:      output,
			ToolTrace:   r.scrubTrace(o.result.ToolTrace),
			Verdict:     f.Verdict,
			Attempts:    o.attempts,
			Duration:    o.duration,
			Timeout:     r.s.cfg.TaskTimeout,
		})
		r.record(t.task.Name, audit.EventEvaluation, report)
		r.s.metrics.EvaluationScore.WithLabelValues(capability).Observe(float64(report.Score))
	}

	r.settle(f, failure)
}

// skip settles a task that never ran.
func (r *run) skip(task plan.SubTask, layer int, policy, reason string) {
	r.settle(finding.Finding{
		TaskName:   task.Name,
		Capability: task.Capability.String(),
		State:      plan.StateSkipped,
		Layer:      layer,
		Verdict:    validation.Failure(policy, domain.SeverityNone, reason),
	}, nil)
}

// fail settles a task that could not be handed to its worker.
func (r *run) fail(task plan.SubTask, layer int, policy, kind string, err error) {
	r.settle(finding.Finding{
		TaskName:   task.Name,
		Capability: task.Capability.String(),
		State:      plan.StateFailed,
		Layer:      layer,
		Verdict:    validation.Failure(policy, domain.SeverityMedium, err.Error()),
	}, &audit.ErrorPayload{
		Code:     string(errors.CodeOf(err)),
		Kind:     kind,
		PolicyID: policy,
		Message:  err.Error(),
	})
}

// settle records the finding of a task. It is the only writer of the store.
func (r *run) settle(f finding.Finding, failure *audit.ErrorPayload) {
	logger := r.logger.WithTask(f.TaskName, f.Capability)

	if failure != nil {
		r.record(f.TaskName, audit.EventError, *failure)
		r.s.metrics.RecordError(failure.Code, "scheduler")
	}
	r.record(f.TaskName, audit.EventValidation, audit.ValidationPayload{Finding: f})

	if err := r.store.Put(f); err != nil {
		logger.WithError(err).Error("finding dropped")
		return
	}
	r.s.metrics.RecordTask(f.Capability, string(f.State), f.Duration)

	switch f.Verdict.PolicyID {
	case validation.PolicyRunDeadline, validation.PolicyRunCancelled:
		r.interrupted = f.Verdict.PolicyID
	}

	switch f.State {
	case plan.StateSucceeded:
		logger.Info("task succeeded", "attempts", f.Attempts, "duration", f.Duration)
	case plan.StateSkipped:
		logger.Info("task skipped", "policy_id", f.Verdict.PolicyID, "reasons", f.Verdict.Reasons)
	case plan.StateFailed:
		logger.Warn("task failed", "policy_id", f.Verdict.PolicyID, "severity", f.Verdict.Severity.String(), "reasons", f.Verdict.Reasons)
		if r.s.cfg.FailFast && !r.failFast.Load() {
			r.failFast.Store(true)
			logger.Warn("fail_fast set, skipping tasks not yet started")
		}
	}
}
