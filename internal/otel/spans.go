package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for clawboard spans.
var (
	AttrProjectID = attribute.Key("clawboard.project.id")
	AttrThreadID  = attribute.Key("clawboard.thread.id")
	AttrTaskID    = attribute.Key("clawboard.task.id")
	AttrJobID     = attribute.Key("clawboard.job.id")
	AttrJobKind   = attribute.Key("clawboard.job.kind")
	AttrRole      = attribute.Key("clawboard.agent.role")
	AttrRound     = attribute.Key("clawboard.meeting.round")
	AttrAdapter   = attribute.Key("clawboard.invoke.adapter")
	AttrModel     = attribute.Key("clawboard.llm.model")
	AttrSessionID = attribute.Key("clawboard.session.id")
	AttrOutcome   = attribute.Key("clawboard.outcome")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (agent runtime, LLM API, Telegram).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
