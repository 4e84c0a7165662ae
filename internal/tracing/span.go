package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on step spans.
const (
	AttrStep         = attribute.Key("pagerunner.step")
	AttrIteration    = attribute.Key("pagerunner.iteration")
	AttrVU           = attribute.Key("pagerunner.vu")
	AttrRun          = attribute.Key("pagerunner.run")
	AttrResponseTime = attribute.Key("pagerunner.response_time_ms")
	AttrResponseCode = attribute.Key("http.response.status_code")
	AttrInterrupted  = attribute.Key("pagerunner.interrupted")
)

// StartStepSpan starts the span covering one step execution.
func StartStepSpan(ctx context.Context, tracer trace.Tracer, step string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "step "+step,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(AttrStep.String(step))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordAssertion adds a failed assertion as a span event.
func RecordAssertion(span trace.Span, name, message, frame string) {
	span.AddEvent("assertion", trace.WithAttributes(
		attribute.String("assertion.name", name),
		attribute.String("assertion.message", message),
		attribute.String("assertion.frame", frame),
	))
}

// EndSpan finishes a span. A non-nil err or failed marks it as an error.
func EndSpan(span trace.Span, err error, failed bool, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case failed:
		span.SetStatus(codes.Error, "assertion failed")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
