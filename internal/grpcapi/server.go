// Package grpcapi exposes the standard gRPC health service for the parking
// simulation so orchestrators can probe it without speaking HTTP.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"autopark/parker/internal/logging"
)

// ServiceName is the health service key reported for the simulation.
const ServiceName = "parker"

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	log    *logging.Logger
	grpc   *grpc.Server
	health *health.Server
}

// NewServer constructs the server. The simulation starts out NOT_SERVING
// until SetServing is called.
func NewServer(logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.L()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	s := &Server{
		log:    logger,
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing flips the simulation health status.
func (s *Server) SetServing(serving bool) {
	state := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		state = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, state)
	s.log.Info("health status changed", logging.String("service", ServiceName), logging.String("status", state.String()))
}

// Serve blocks serving on lis until Stop or GracefulStop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health service listening", logging.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Shutdown marks every service NOT_SERVING and drains in-flight calls until
// ctx expires, after which remaining calls are cut off.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
}

func loggingInterceptor(logger *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			logging.String("method", info.FullMethod),
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(started)),
		)
		return resp, err
	}
}
