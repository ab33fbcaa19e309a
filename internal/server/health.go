package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "scanflow.Daemon"

// NewGRPCServer returns a server exposing the standard health service and
// reflection (for grpcurl). Both statuses start NOT_SERVING.
func NewGRPCServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(opts...)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	setStatus(hs, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return grpcServer, hs
}

func setStatus(hs *health.Server, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if hs == nil {
		return
	}
	// Set the service as serving (empty string means overall server health)
	hs.SetServingStatus("", st)
	hs.SetServingStatus(ServiceName, st)
}
