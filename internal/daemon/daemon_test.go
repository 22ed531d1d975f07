package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/console"
	"github.com/matheus3301/wppdesk/internal/health"
	"github.com/matheus3301/wppdesk/internal/httpapi"
	"github.com/matheus3301/wppdesk/internal/lock"
	"github.com/matheus3301/wppdesk/internal/paths"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const testProfile = "test"

// setupHome points the data dir at a short temp path (unix socket paths are
// limited to ~104 bytes on macOS) and writes a config for gatewayURL.
func setupHome(t *testing.T, gatewayURL string) paths.Layout {
	t.Helper()
	home, err := os.MkdirTemp("/tmp", "wppdesk-d-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv(paths.HomeEnv, home)

	layout := paths.ForProfile(testProfile)
	require.NoError(t, layout.Ensure())

	cfg := config.Default()
	cfg.Gateway.BaseURL = gatewayURL
	cfg.Gateway.APIKey = "secret"
	cfg.Gateway.Instance = "shop"
	cfg.Monitor.Interval = config.Duration{Duration: time.Hour}
	require.NoError(t, config.Save(layout.ConfigPath(), cfg))
	return layout
}

func connectedGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"shop","state":"open"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDaemonLifecycle(t *testing.T) {
	gw := connectedGateway(t)
	layout := setupHome(t, gw.URL)

	var (
		engine *console.Engine
		srv    *httpapi.Server
	)
	app := fxtest.New(t,
		fx.NopLogger,
		Module(Params{Profile: testProfile, HTTPAddr: "127.0.0.1:0"}),
		fx.Populate(&engine, &srv),
	)
	app.RequireStart()

	require.NotNil(t, srv)
	require.Eventually(t, func() bool {
		return engine.Status().State == status.Connected
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(status.Connected), body["state"])

	conn, err := grpc.NewClient("unix://"+layout.HealthSocket(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: health.Service})
		return err == nil && res.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	_, err = os.Stat(filepath.Join(layout.Root, lock.FileName))
	require.NoError(t, err)

	app.RequireStop()

	_, err = os.Stat(layout.HealthSocket())
	assert.True(t, os.IsNotExist(err), "socket should be removed on stop")
	_, err = os.Stat(layout.DBPath())
	assert.NoError(t, err)
}

func TestDaemonRefusesHeldProfile(t *testing.T) {
	gw := connectedGateway(t)
	layout := setupHome(t, gw.URL)

	held, err := lock.Acquire(layout.Root)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	app := fx.New(fx.NopLogger, Module(Params{Profile: testProfile}))
	require.Error(t, app.Err())
	assert.Contains(t, app.Err().Error(), "profile locked")
}

func TestDaemonRejectsBadProfile(t *testing.T) {
	t.Setenv(paths.HomeEnv, t.TempDir())
	app := fx.New(fx.NopLogger, Module(Params{Profile: "Bad Name"}))
	require.Error(t, app.Err())
}

func TestDaemonWithoutHTTP(t *testing.T) {
	gw := connectedGateway(t)
	layout := setupHome(t, gw.URL)
	cfg, err := config.Load(layout.ConfigPath())
	require.NoError(t, err)
	cfg.HTTP.Addr = ""
	require.NoError(t, config.Save(layout.ConfigPath(), cfg))

	var srv *httpapi.Server
	app := fxtest.New(t, fx.NopLogger, Module(Params{Profile: testProfile}), fx.Populate(&srv))
	app.RequireStart()
	assert.Nil(t, srv)
	app.RequireStop()
}
