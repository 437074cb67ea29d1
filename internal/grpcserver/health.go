// Package grpcserver serves the standard gRPC health protocol for bookingd.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceName is the health entry for the booking API.
	ServiceName = "bookingd.Booking"

	defaultInterval    = 15 * time.Second
	defaultPingTimeout = 2 * time.Second
)

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a HealthServer.
type Option func(*HealthServer)

// WithInterval sets how often the store is pinged.
func WithInterval(interval time.Duration) Option {
	return func(server *HealthServer) {
		if interval > 0 {
			server.interval = interval
		}
	}
}

// WithPingTimeout bounds a single ping.
func WithPingTimeout(timeout time.Duration) Option {
	return func(server *HealthServer) {
		if timeout > 0 {
			server.pingTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for status flips.
func WithLogger(logger *zap.Logger) Option {
	return func(server *HealthServer) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// HealthServer keeps grpc.health.v1 statuses in line with store pings.
type HealthServer struct {
	pinger      Pinger
	health      *health.Server
	interval    time.Duration
	pingTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	known   bool
	serving bool
}

// NewHealthServer builds a HealthServer. Statuses start as NOT_SERVING until
// the first ping completes.
func NewHealthServer(pinger Pinger, options ...Option) (*HealthServer, error) {
	if pinger == nil {
		return nil, errors.New("grpcserver: pinger is nil")
	}
	server := &HealthServer{
		pinger:      pinger,
		health:      health.NewServer(),
		interval:    defaultInterval,
		pingTimeout: defaultPingTimeout,
		logger:      zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return server, nil
}

// Register attaches the health service to a grpc.Server.
func (server *HealthServer) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, server.health)
}

// Check pings the store once and publishes the result.
func (server *HealthServer) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, server.pingTimeout)
	defer cancel()
	err := server.pinger.Ping(pingCtx)
	serving := err == nil

	server.mu.Lock()
	defer server.mu.Unlock()
	if !server.known || server.serving != serving {
		if serving {
			server.logger.Info("store reachable, health serving")
		} else {
			server.logger.Warn("store unreachable, health not serving", zap.Error(err))
		}
	}
	server.known = true
	server.serving = serving
	if serving {
		server.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return serving
}

// Watch pings on every interval until ctx is cancelled. On return every
// status is moved to NOT_SERVING.
func (server *HealthServer) Watch(ctx context.Context) {
	server.Check(ctx)
	ticker := time.NewTicker(server.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			server.health.Shutdown()
			return
		case <-ticker.C:
			server.Check(ctx)
		}
	}
}

func (server *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	server.health.SetServingStatus("", status)
	server.health.SetServingStatus(ServiceName, status)
}

// Serve runs a grpc.Server exposing health on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, server *HealthServer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	server.Register(grpcServer)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go server.Watch(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC health server starting", zap.String("listen_addr", addr))
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("gRPC shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
