package telemetry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T) (string, *health.Server) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String(), hs
}

func TestProbeReportsHealthyGateway(t *testing.T) {
	addr, _ := startHealthServer(t)

	p := NewHealthProbe(addr, ProbeOptions{Interval: 10 * time.Millisecond, Timeout: time.Second})
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, p.Healthy, 2*time.Second, 10*time.Millisecond)

	stats := p.Stats()
	require.Equal(t, StateConnected, stats["state"])
}

func TestProbeDetectsNotServing(t *testing.T) {
	addr, hs := startHealthServer(t)

	p := NewHealthProbe(addr, ProbeOptions{Interval: 10 * time.Millisecond, Timeout: time.Second})
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, p.Healthy, 2*time.Second, 10*time.Millisecond)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	require.Eventually(t, func() bool { return !p.Healthy() }, 2*time.Second, 10*time.Millisecond)
}

func TestProbeStartSurvivesUnreachableGateway(t *testing.T) {
	p := NewHealthProbe("127.0.0.1:1", ProbeOptions{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond})
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	require.False(t, p.Healthy())
}
