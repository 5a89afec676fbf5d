// Package admin exposes the engine's operational gRPC surface: process
// and run health checking plus server reflection, so operators can
// probe a long-running engine with standard tooling.
package admin

import (
	"net"

	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RunService is the health service name that tracks the active run:
// SERVING while slots are being processed, NOT_SERVING once the run
// terminates.
const RunService = "engine.run"

// Server wraps the admin gRPC server and its health registry.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewServer builds the admin server with request-id and metrics
// interceptors, OpenTelemetry stats, health, and reflection wired in.
// collector may be nil.
func NewServer(log logging.Logger, collector *observability.EngineCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}

	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)

	h := health.NewServer()
	healthgrpc.RegisterHealthServer(srv, h)
	reflection.Register(srv)

	h.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	h.SetServingStatus(RunService, healthgrpc.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: srv, health: h, log: log}
}

// Serve blocks serving RPCs on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// SetRunActive flips the run health service.
func (s *Server) SetRunActive(active bool) {
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if active {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(RunService, status)
}

// GracefulStop marks every health service NOT_SERVING and drains
// in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// GRPCServer exposes the underlying server so callers can register
// additional services before Serve.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}
