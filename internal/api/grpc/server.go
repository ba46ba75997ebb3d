// Package grpcapi exposes the standard gRPC health service so orchestrators
// can probe the relay without speaking WebSocket.
package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-relay-service/internal/observability"
	"voice-relay-service/internal/observability/metrics"
)

// ServiceName is the health-check service name for the voice relay.
const ServiceName = "voice.relay.VoiceRelay"

// Server bundles the gRPC server with its health service.
type Server struct {
	*grpc.Server
	health *health.Server
}

// New creates a gRPC server with logging/metrics interceptors, the health
// service (initially NOT_SERVING) and reflection for grpcurl.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	reflection.Register(g)

	s := &Server{Server: g, health: hs}
	s.SetServing(false)
	return s
}

// SetServing flips the overall and service-specific health status.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING, then stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}
