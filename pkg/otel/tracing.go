package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanApplyEvent  = "apply_event"
	SpanSendRequest = "send_request"
	SpanSaveState   = "save_snapshot"

	// Attribute keys
	AttributeEventKind    = "event.kind"
	AttributeEnvelopeType = "envelope.type"
	AttributeOrderID      = "order.id"
	AttributeOrderSide    = "order.side"
	AttributeOrderPrice   = "order.price"
	AttributeOrderVolume  = "order.volume"
	AttributeMakerCount   = "trade.maker_count"
	AttributePCode        = "participant.pcode"
)

// StartEventSpan starts a span around applying one inbound event
func StartEventSpan(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttributeEventKind, kind))
	return ReplicaTracer().Start(ctx, SpanApplyEvent, trace.WithAttributes(attrs...))
}

// StartRequestSpan starts a span around one outbound request
func StartRequestSpan(ctx context.Context, envelopeType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttributeEnvelopeType, envelopeType))
	return GatewayTracer().Start(ctx, SpanSendRequest, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindProducer))
}

// StartSnapshotSpan starts a span around persisting a snapshot
func StartSnapshotSpan(ctx context.Context, pcode string) (context.Context, trace.Span) {
	return ReplicaTracer().Start(ctx, SpanSaveState, trace.WithAttributes(attribute.String(AttributePCode, pcode)))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
