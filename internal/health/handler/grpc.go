package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker is implemented by health.Checker.
type Checker interface {
	Check(ctx context.Context) error
}

// Server publishes readiness through the standard grpc.health.v1 service for Kubernetes and load
// balancers. The overall status ("") is refreshed from the checker.
type Server struct {
	checker Checker
	health  *health.Server
	log     zerolog.Logger
}

// NewServer returns a health Server whose status starts as NOT_SERVING until the first Refresh.
func NewServer(checker Checker, log zerolog.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{checker: checker, health: hs, log: log}
}

// Register attaches the health service to srv.
func (s *Server) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh runs the checker once and updates the served status. A nil checker means SERVING.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		if err := s.checker.Check(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health: not serving")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	return status
}

// Run refreshes every interval until ctx is done, then marks the service as shutting down.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
