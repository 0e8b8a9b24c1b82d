// Package grpc exposes the standard gRPC health service backed by the
// dependency checker, plus server reflection for grpcurl.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/michelebogoni/sitepilot/internal/health"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is reported alongside the overall ("") health status.
const ServiceName = "sitepilot.Executor"

type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	checker    *health.Checker
	listener   net.Listener
	log        *logger.Logger
}

func NewServer(checker *health.Checker, log *logger.Logger) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     grpchealth.NewServer(),
		checker:    checker,
		log:        log.With("component", "grpc"),
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

func (s *Server) Listen(port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	s.listener = listener
	return nil
}

// Serve blocks until the server stops. Listen must be called first unless a
// listener is passed explicitly.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		listener = s.listener
	}
	if listener == nil {
		return fmt.Errorf("gRPC server has no listener")
	}
	return s.grpcServer.Serve(listener)
}

// Refresh maps the checker's verdict onto the health service. Degraded still
// counts as serving.
func (s *Server) Refresh(ctx context.Context) {
	if s.checker == nil {
		return
	}
	report := s.checker.Check(ctx)

	status := healthpb.HealthCheckResponse_SERVING
	if report.Status == health.StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch refreshes the health status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) GracefulStop() {
	s.log.Info("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
