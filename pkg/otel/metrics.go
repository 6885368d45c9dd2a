package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/marketreplica/pkg/otel"
)

// ReplicaMetrics holds the instruments recorded while applying events
type ReplicaMetrics struct {
	eventsTotal        metric.Int64Counter
	staleReferences    metric.Int64Counter
	protocolViolations metric.Int64Counter
	rejectedEvents     metric.Int64Counter
	applyLatency       metric.Float64Histogram
	requestsTotal      metric.Int64Counter
}

// NewReplicaMetrics creates the instruments on meter
func NewReplicaMetrics(meter metric.Meter) (*ReplicaMetrics, error) {
	eventsTotal, err := meter.Int64Counter(
		"replica.events.total",
		metric.WithDescription("Total number of applied inbound events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	staleReferences, err := meter.Int64Counter(
		"replica.stale_references.total",
		metric.WithDescription("Cancel or trade references to orders missing from their book"),
		metric.WithUnit("{reference}"),
	)
	if err != nil {
		return nil, err
	}

	protocolViolations, err := meter.Int64Counter(
		"replica.protocol_violations.total",
		metric.WithDescription("Inbound envelopes that could not be interpreted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	rejectedEvents, err := meter.Int64Counter(
		"replica.rejected_events.total",
		metric.WithDescription("Events rejected before mutation"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	applyLatency, err := meter.Float64Histogram(
		"replica.apply.duration",
		metric.WithDescription("Time (seconds) spent applying one event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"gateway.requests.total",
		metric.WithDescription("Outbound requests sent to the matching engine"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReplicaMetrics{
		eventsTotal:        eventsTotal,
		staleReferences:    staleReferences,
		protocolViolations: protocolViolations,
		rejectedEvents:     rejectedEvents,
		applyLatency:       applyLatency,
		requestsTotal:      requestsTotal,
	}, nil
}

// DefaultReplicaMetrics builds the instruments on the configured meter
// provider. Instrument errors fall back to a nil receiver, which records nothing.
func DefaultReplicaMetrics() *ReplicaMetrics {
	m, err := NewReplicaMetrics(GetMeterProvider().Meter(instrumentationName))
	if err != nil {
		return nil
	}
	return m
}

// RecordEvent counts an applied event and its latency
func (m *ReplicaMetrics) RecordEvent(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttributeEventKind, kind))
	m.eventsTotal.Add(ctx, 1, attrs)
	m.applyLatency.Record(ctx, d.Seconds(), attrs)
}

// IncStaleReferences counts a missing order reference
func (m *ReplicaMetrics) IncStaleReferences(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.staleReferences.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeEventKind, kind)))
}

// IncProtocolViolations counts an uninterpretable envelope
func (m *ReplicaMetrics) IncProtocolViolations(ctx context.Context, envelopeType string) {
	if m == nil {
		return
	}
	m.protocolViolations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeEnvelopeType, envelopeType)))
}

// IncRejected counts an event rejected before mutation
func (m *ReplicaMetrics) IncRejected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.rejectedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeEventKind, kind)))
}

// IncRequests counts an outbound request
func (m *ReplicaMetrics) IncRequests(ctx context.Context, envelopeType string, failed bool) {
	if m == nil {
		return
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeEnvelopeType, envelopeType),
		attribute.Bool("failed", failed),
	))
}
