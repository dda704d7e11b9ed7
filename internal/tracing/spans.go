package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for execution tracing.
const (
	AttrModel       = "claude.model"
	AttrSessionID   = "claude.session.id"
	AttrFingerprint = "claude.session.fingerprint"
	AttrStrategy    = "claude.exec.strategy"
	AttrStreaming   = "claude.exec.streaming"
)

// StartSpan starts a span on the globally registered tracer provider.
// When tracing is disabled this is a no-op with zero overhead.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(defaultServiceName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span as failed and records the error event.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
