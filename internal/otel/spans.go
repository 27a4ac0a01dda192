package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across taskhive spans.
const (
	AttrAgentID        = attribute.Key("taskhive.agent.id")
	AttrAgentType      = attribute.Key("taskhive.agent.type")
	AttrTaskID         = attribute.Key("taskhive.task.id")
	AttrTaskType       = attribute.Key("taskhive.task.type")
	AttrTaskPriority   = attribute.Key("taskhive.task.priority")
	AttrTaskStatus     = attribute.Key("taskhive.task.status")
	AttrSubscriptionID = attribute.Key("taskhive.subscription.id")
	AttrEventType      = attribute.Key("taskhive.event.type")
	AttrRetryCount     = attribute.Key("taskhive.task.retry_count")
)

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// StartServerSpan starts a span for an inbound gateway request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...))
}

// EndSpan records err on the span (if non-nil) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
