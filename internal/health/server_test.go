package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthFollowsConnectionState(t *testing.T) {
	// Use a short path to avoid the 104-char unix socket limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "wppdesk-health-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "h.sock")

	srv, err := NewServer(socket, nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	b := bus.New()
	machine := status.NewMachine(b)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Follow(ctx, b, machine.Current)
	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(Service))

	_, err = machine.Transition(status.Connected)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return check(Service) == healthpb.HealthCheckResponse_SERVING && check("") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	_, err = machine.Transition(status.Disconnected)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return check(Service) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestStopRemovesSocket(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "wppdesk-health-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "h.sock")

	srv, err := NewServer(socket, nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()

	srv.Stop(context.Background())

	_, err = os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
}
