package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"authgate.org/internal/obs"
)

// GRPCHealthServer exposes the standard gRPC health protocol for
// orchestrator probes, backed by the same readiness check as /readyz.
type GRPCHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness ReadyProbe
}

// NewGRPCHealthServer creates the health service wrapper.
func NewGRPCHealthServer(rp ReadyProbe) *GRPCHealthServer {
	return &GRPCHealthServer{readiness: rp}
}

// Register attaches the health service to a gRPC server.
func (s *GRPCHealthServer) Register(srv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(srv, s)
}

// Check evaluates readiness.
func (s *GRPCHealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch is not supported; probes use unary Check.
func (s *GRPCHealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, _ grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
