package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ledgerService is the name reported to gRPC health probes.
const ledgerService = "marginledger.Ledger"

// GRPCServer serves the standard health protocol and reflection so load
// balancers and grpcurl can probe the ledger. The data plane is HTTP/JSON.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	logger zerolog.Logger
}

func NewGRPCServer(addr string, logger zerolog.Logger) *GRPCServer {
	s := grpc.NewServer()

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ledgerService, healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(s)

	return &GRPCServer{server: s, health: hs, addr: addr, logger: logger}
}

// SetServing flips the health status once state is restored.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ledgerService, st)
}

// Start blocks until ctx is cancelled or the listener fails.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.server.Serve(lis)
}
