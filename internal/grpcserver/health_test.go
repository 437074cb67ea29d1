package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type togglePinger struct {
	down atomic.Bool
}

func (pinger *togglePinger) Ping(context.Context) error {
	if pinger.down.Load() {
		return errors.New("database is down")
	}
	return nil
}

func newHealthClient(t *testing.T, server *HealthServer) healthpb.HealthClient {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	server.Register(grpcServer)
	go func() { _ = grpcServer.Serve(listener) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	response, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return response.GetStatus()
}

func TestHealthFollowsStorePing(t *testing.T) {
	pinger := &togglePinger{}
	server, err := NewHealthServer(pinger)
	if err != nil {
		t.Fatalf("NewHealthServer: %v", err)
	}
	client := newHealthClient(t, server)

	if status := checkStatus(t, client, ServiceName); status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the first ping, got %s", status)
	}

	if !server.Check(context.Background()) {
		t.Fatalf("expected reachable store")
	}
	for _, service := range []string{"", ServiceName} {
		if status := checkStatus(t, client, service); status != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("service %q: expected SERVING, got %s", service, status)
		}
	}

	pinger.down.Store(true)
	if server.Check(context.Background()) {
		t.Fatalf("expected unreachable store")
	}
	if status := checkStatus(t, client, ServiceName); status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", status)
	}
}

func TestWatchPingsUntilCancelled(t *testing.T) {
	pinger := &togglePinger{}
	server, err := NewHealthServer(pinger, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewHealthServer: %v", err)
	}
	client := newHealthClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Watch(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for checkStatus(t, client, ServiceName) != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("health never became SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
	if status := checkStatus(t, client, ServiceName); status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %s", status)
	}
}

func TestNewHealthServerRequiresPinger(t *testing.T) {
	if _, err := NewHealthServer(nil); err == nil {
		t.Fatalf("expected error for nil pinger")
	}
}
