package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"medcabinet.org/internal/obs"
)

// ReadinessChecker reports whether the backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer implements grpc.health.v1.Health on top of a readiness check.
// The empty service name and the API service name are both known.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness ReadinessChecker
	timeout   time.Duration
}

func NewHealthServer(r ReadinessChecker) *HealthServer {
	return &HealthServer{readiness: r, timeout: 2 * time.Second}
}

func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != obs.ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.readiness != nil {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.readiness.Check(ctx); err != nil {
			obs.SetReady(false)
			obs.Logger().Warn().Err(err).Msg("grpc health: not ready")
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewServer builds a gRPC server exposing health and reflection.
func NewServer(r ReadinessChecker, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryLogging)}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(r))
	reflection.Register(srv)
	return srv
}

func unaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	e := obs.Logger().Debug()
	if err != nil {
		e = obs.Logger().Warn().Err(err)
	}
	e.Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
		Msg("grpc_complete")
	return resp, err
}
