package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves the standard grpc.health.v1.Health service. It reports
// SERVING until Run's context is canceled.
type GRPCHealth struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewGRPCHealth creates a health server listening on addr.
func NewGRPCHealth(addr string, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCHealth{addr: addr, server: srv, health: hs, logger: logger}
}

// Run listens on the configured address and serves until ctx is done.
func (g *GRPCHealth) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen grpc health on %s: %w", g.addr, err)
	}
	return g.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
		errCh <- g.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		g.health.Shutdown()
		g.server.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve grpc health: %w", err)
	}
}

// SetNotServing flips the reported status ahead of shutdown.
func (g *GRPCHealth) SetNotServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}
