package otel

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc/stats"
)

// NewGRPCStatsHandler creates a stats handler for gRPC telemetry using OpenTelemetry.
func NewGRPCStatsHandler() stats.Handler {
	return otelgrpc.NewServerHandler(
		otelgrpc.WithMeterProvider(GetMeterProvider()),
		otelgrpc.WithTracerProvider(GetTracerProvider(ServiceReplica)),
	)
}
