// Package health serves the standard gRPC health service on the profile's
// unix socket. The daemon reports SERVING only while the gateway session is
// connected, so supervisors can probe it with grpc_health_probe.
package health

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name probed for the gateway session, alongside the
// overall "" service.
const Service = "wppdesk.Gateway"

// Server manages the gRPC server lifecycle.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to socketPath.
func NewServer(socketPath string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}
	s.set(status.Unknown)
	return s, nil
}

// Follow mirrors connection state changes from b until ctx is done.
// current is read once after subscribing.
func (s *Server) Follow(ctx context.Context, b *bus.Bus, current func() status.State) {
	ch, unsub := b.Subscribe(bus.KindStateChanged, 16)
	defer unsub()

	s.set(current())
	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				s.set(change.To)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) set(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(Service, serving)
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks every service NOT_SERVING, shuts down gracefully and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
