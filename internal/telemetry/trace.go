package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/felixgeelhaar/dispatch/scheduler"

// StartRunSpan creates the root span for one plan execution.
//
// Usage:
//
//	ctx, span := telemetry.StartRunSpan(ctx, requestID, "parallel", len(tasks))
//	defer span.End()
func StartRunSpan(ctx context.Context, requestID, mode string, tasks int) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "dispatch.run")

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("execution_mode", mode),
		attribute.Int("task_count", tasks),
		attribute.String("component", "scheduler"),
	)

	return ctx, span
}

// StartLayerSpan creates a span covering one execution layer.
func StartLayerSpan(ctx context.Context, layer int, tasks []string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "dispatch.layer")

	span.SetAttributes(
		attribute.Int("layer", layer),
		attribute.StringSlice("tasks", tasks),
	)

	return ctx, span
}

// StartAttemptSpan creates a span for one worker invocation.
func StartAttemptSpan(ctx context.Context, task, capability string, attempt int) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "dispatch.task.attempt", trace.WithSpanKind(trace.SpanKindClient))

	span.SetAttributes(
		attribute.String("task", task),
		attribute.String("capability", capability),
		attribute.Int("attempt", attempt),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
// This should be called when an operation fails.
//
// Usage:
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	    return err
//	}
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, duration time.Duration) {
	span.SetAttributes(
		attribute.Int64(name+"_ms", duration.Milliseconds()),
	)
}
