package grpchealth

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/courier-risk/internal/logging"
)

// ServiceName is the health service name reported next to the overall "" entry.
const ServiceName = "courier_risk.v1.FraudCheck"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the standard gRPC health protocol backed by a database ping.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	pinger     Pinger
	interval   time.Duration
	logger     *zap.Logger
}

// NewServer builds a health server that re-checks pinger every interval.
func NewServer(pinger Pinger, interval time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer: gs,
		health:     hs,
		pinger:     pinger,
		interval:   interval,
		logger:     logger.Named("grpchealth"),
	}
}

// Serve probes once, then serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.Probe(ctx)

	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info("gRPC health listening", zap.String("addr", listener.Addr().String()))
	if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return logging.NewOperationError("grpchealth.serve", "", err)
	}
	return nil
}

// Probe pings the dependency once and updates the reported status.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(pingCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("database ping failed", zap.Error(err))
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}
