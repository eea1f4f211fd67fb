package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by the merge pipeline.
const (
	AttrAccountID   = attribute.Key("clover.account_id")
	AttrPrimaryID   = attribute.Key("clover.primary_id")
	AttrSecondaryID = attribute.Key("clover.secondary_id")
	AttrClientCount = attribute.Key("clover.client_count")
)

var tracer trace.Tracer

// SetTracer installs the tracer. Until then StartSpan is a no-op.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span named "pkg.Type.Method".
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Pair tags a span with the account and the two clients of a merge.
func Pair(accountID, primaryID, secondaryID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAccountID.String(accountID),
		AttrPrimaryID.String(primaryID),
		AttrSecondaryID.String(secondaryID),
	}
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func activeSpan(ctx context.Context) (trace.SpanContext, bool) {
	if tracer == nil {
		return trace.SpanContext{}, false
	}
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// GetTraceParent returns the W3C traceparent for ctx, used as a Kafka header.
func GetTraceParent(ctx context.Context) string {
	if _, ok := activeSpan(ctx); !ok {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}

func GetTraceID(ctx context.Context) string {
	sc, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return sc.TraceID().String()
}
