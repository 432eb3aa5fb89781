package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/telemetry"
	"github.com/felixgeelhaar/dispatch/internal/worker"
)

// outcome is how an executed task ended, before validation.
type outcome struct {
	result   worker.RawResult
	err      error
	attempts int
	duration time.Duration
	// interrupted is the run policy that ended the task, if any.
	interrupted string
}

// attempt is a single worker invocation.
type attempt struct {
	result      worker.RawResult
	err         error
	timedOut    bool
	interrupted string
	duration    time.Duration
}

// execute invokes the worker of t until it succeeds or retries run out,
// reporting every step through emit. It runs on a worker goroutine in
// parallel layers and must not touch run state other than failFast.
func (r *run) execute(ctx context.Context, t *dispatched, emit func(message)) {
	if reason := r.haltReason(ctx); reason != "" {
		emit(message{kind: msgNotStarted, task: t, reason: reason})
		return
	}
	emit(message{kind: msgStarted, task: t})

	r.s.metrics.InFlight.Inc()
	defer r.s.metrics.InFlight.Dec()

	start := r.s.now()
	delays := r.s.cfg.Backoff.newBackOff()
	var o outcome

	for n := 1; ; n++ {
		a := r.invoke(ctx, t, n)
		o.result, o.err, o.attempts = a.result, a.err, n

		payload := audit.ExecutionPayload{
			Attempt:   n,
			Output:    r.scrub(a.result.Output),
			ToolTrace: r.scrubTrace(a.result.ToolTrace),
			TimedOut:  a.timedOut,
			Duration:  a.duration,
		}
		if a.err != nil {
			payload.Error = r.scrub(a.err.Error())
		}

		retry := a.err != nil && a.interrupted == "" && n <= r.s.cfg.MaxRetries
		if retry {
			payload.RetryIn = delays.NextBackOff()
		}
		emit(message{kind: msgAttempt, task: t, attempt: payload, timedOut: a.timedOut})

		if !retry {
			o.interrupted = a.interrupted
			break
		}
		if err := r.s.sleep(ctx, payload.RetryIn); err != nil {
			if policy := runPolicy(ctx); policy != "" {
				o.interrupted = policy
				o.err = fmt.Errorf("task %q interrupted before attempt %d: %w", t.task.Name, n+1, err)
			} else {
				o.err = err
			}
			break
		}
	}

	o.duration = r.s.now().Sub(start)
	emit(message{kind: msgSettled, task: t, outcome: o})
}

type invocation struct {
	result worker.RawResult
	err    error
}

// invoke runs one attempt under the task timeout. A worker that ignores
// cancellation is abandoned after the cancel grace period.
func (r *run) invoke(ctx context.Context, t *dispatched, n int) attempt {
	ctx, span := telemetry.StartAttemptSpan(ctx, t.task.Name, t.task.Capability.String(), n)
	defer span.End()

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout := r.s.cfg.TaskTimeout; timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := r.s.now()
	done := make(chan invocation, 1)
	go func() {
		res, err := t.handle.Invoke(attemptCtx, t.env)
		done <- invocation{result: res, err: err}
	}()

	var (
		inv     invocation
		expired bool
	)
	select {
	case inv = <-done:
	case <-attemptCtx.Done():
		expired = true
		grace := time.NewTimer(r.s.cfg.CancelGrace)
		select {
		case inv = <-done:
		case <-grace.C:
			r.logger.WithTask(t.task.Name, t.task.Capability.String()).
				Warn("worker did not release within the grace period", "attempt", n, "grace", r.s.cfg.CancelGrace)
		}
		grace.Stop()
	}

	a := attempt{result: inv.result, duration: r.s.now().Sub(start)}

	failed := expired || inv.err != nil || inv.result.Failed()
	switch {
	case !failed:
	case expired && ctx.Err() != nil, inv.err != nil && ctx.Err() != nil:
		a.interrupted = runPolicy(ctx)
		a.err = fmt.Errorf("task %q interrupted on attempt %d: %w", t.task.Name, n, ctx.Err())
	case expired, inv.err != nil && attemptCtx.Err() == context.DeadlineExceeded:
		a.timedOut = true
		a.err = &WorkerTimeoutError{Task: t.task.Name, Attempt: n, Timeout: r.s.cfg.TaskTimeout}
	case inv.err != nil:
		a.err = &WorkerInvocationError{Task: t.task.Name, Attempt: n, Err: inv.err}
	default:
		a.err = &WorkerInvocationError{Task: t.task.Name, Attempt: n, Err: fmt.Errorf("worker reported: %s", inv.result.Error)}
	}

	if a.err != nil {
		telemetry.RecordError(span, a.err)
	} else {
		telemetry.RecordSuccess(span)
	}
	telemetry.RecordDuration(span, "invoke", a.duration)
	return a
}

// scrub returns text with every detected secret replaced. Worker text is
// scrubbed before it is logged, audited or aggregated.
func (r *run) scrub(text string) string {
	out, _ := r.s.pipeline.Redact(text)
	return out
}

func (r *run) scrubTrace(trace []worker.ToolCall) []worker.ToolCall {
	if len(trace) == 0 {
		return trace
	}
	out := make([]worker.ToolCall, len(trace))
	for i, c := range trace {
		out[i] = worker.ToolCall{
			Tool:   c.Tool,
			Input:  r.scrub(c.Input),
			Output: r.scrub(c.Output),
			Error:  r.scrub(c.Error),
		}
	}
	return out
}
