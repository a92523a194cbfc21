package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "account-lifecycle/internal/health/handler"
)

// NewGRPCServer returns a gRPC server carrying only the grpc.health.v1 service, instrumented with
// otelgrpc so health-check traffic shows up in traces and metrics.
func NewGRPCServer(health *healthhandler.Server) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	health.Register(s)
	return s
}
