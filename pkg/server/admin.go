// Package server exposes the replica's admin surfaces: a gRPC health
// service and an HTTP API for state, latency stats and order actions.
package server

import (
	"errors"
	"net"

	"github.com/erain9/marketreplica/pkg/logging"
	"github.com/erain9/marketreplica/pkg/otel"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported by the health endpoint
const HealthService = "marketreplica.Replica"

// AdminServer is the gRPC admin endpoint. It reports SERVING while the
// replica is consuming events and NOT_SERVING once the session halts.
type AdminServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewAdminServer creates the gRPC server with tracing, request logging,
// health and reflection installed. It starts out NOT_SERVING.
func NewAdminServer(logger zerolog.Logger) *AdminServer {
	s := grpc.NewServer(
		grpc.StatsHandler(otel.NewGRPCStatsHandler()),
		grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(logging.StreamServerInterceptor()),
	)

	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)

	a := &AdminServer{
		grpc:   s,
		health: h,
		logger: logger.With().Str("component", "admin_grpc").Logger(),
	}
	a.SetServing(false)
	return a
}

// SetServing flips the reported health of both the overall server and
// HealthService
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(HealthService, status)
	a.logger.Debug().Str("status", status.String()).Msg("Health status changed")
}

// Serve accepts connections on lis until Stop is called
func (a *AdminServer) Serve(lis net.Listener) error {
	a.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC admin server")
	if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server NOT_SERVING and drains in-flight calls
func (a *AdminServer) Stop() {
	a.health.Shutdown()
	a.grpc.GracefulStop()
	a.logger.Info().Msg("gRPC admin server stopped")
}
