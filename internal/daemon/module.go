// Package daemon composes the console daemon with fx.
package daemon

import (
	"context"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/console"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/health"
	"github.com/matheus3301/wppdesk/internal/httpapi"
	"github.com/matheus3301/wppdesk/internal/ingest"
	"github.com/matheus3301/wppdesk/internal/lock"
	"github.com/matheus3301/wppdesk/internal/logging"
	"github.com/matheus3301/wppdesk/internal/metrics"
	"github.com/matheus3301/wppdesk/internal/monitor"
	"github.com/matheus3301/wppdesk/internal/paths"
	"github.com/matheus3301/wppdesk/internal/pgstore"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
	// HTTPAddr overrides http.addr from the config when set.
	HTTPAddr string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLayout,
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideMetrics,
			provideGateway,
			provideEngine,
			provideWebhook,
			provideHTTP,
			provideHealth,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLayout(p Params) (paths.Layout, error) {
	if err := paths.ValidateProfile(p.Profile); err != nil {
		return paths.Layout{}, err
	}
	layout := paths.ForProfile(p.Profile)
	return layout, layout.Ensure()
}

func provideConfig(p Params, layout paths.Layout) (*config.Config, error) {
	cfg, err := config.Resolve(layout.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.HTTPAddr != "" {
		cfg.HTTP.Addr = p.HTTPAddr
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config, layout paths.Layout) (*zap.Logger, error) {
	return logging.New(layout.LogPath(), cfg.LogLevel, p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideLock holds the profile lock until every other hook has stopped.
func provideLock(lc fx.Lifecycle, layout paths.Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("dir", layout.Root))
	l, err := lock.Acquire(layout.Root)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			defer logger.Info("daemon stopped")
			return l.Release()
		},
	})
	return l, nil
}

// storeCloser is implemented by both store backends.
type storeCloser interface {
	console.Store
	Close() error
}

// provideStore opens the configured backend. It depends on the lock so the
// database is never opened by two daemons.
func provideStore(lc fx.Lifecycle, _ *lock.Lock, cfg *config.Config, layout paths.Layout, b *bus.Bus, logger *zap.Logger) (console.Store, error) {
	var (
		st     storeCloser
		result *store.MigrateResult
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := pgstore.Open(context.Background(), cfg.Store.PostgresDSN, b, logger.Named("pgstore"))
		if err != nil {
			return nil, err
		}
		if result, err = db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		st = db
	default:
		db, err := store.Open(layout.DBPath(), b)
		if err != nil {
			return nil, err
		}
		if result, err = db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		st = db
	}

	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("driver", cfg.Store.Driver))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideGateway(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *gateway.Client {
	opts := []gateway.Option{gateway.WithObserver(m)}
	if cfg.Gateway.Integration != "" {
		opts = append(opts, gateway.WithIntegration(cfg.Gateway.Integration))
	}
	return gateway.New(logger.Named("gateway"), opts...)
}

func provideEngine(cfg *config.Config, gw *gateway.Client, st console.Store, layout paths.Layout, b *bus.Bus, logger *zap.Logger) *console.Engine {
	return console.New(console.Config{
		Credentials: cfg.Gateway.Credentials(),
		Monitor: monitor.Config{
			Interval:   cfg.Monitor.Interval.Duration,
			PairingTTL: cfg.Monitor.PairingTTL.Duration,
		},
	}, console.Deps{
		Gateway:  gw,
		Store:    st,
		Settings: config.NewFile(layout.ConfigPath()),
		Bus:      b,
		Logger:   logger,
	})
}

func provideWebhook(cfg *config.Config, st console.Store, engine *console.Engine, m *metrics.Metrics, logger *zap.Logger) *ingest.Handler {
	return ingest.New(st, engine.Monitor(), m, cfg.Gateway.WebhookToken, logger.Named("ingest"))
}

// provideHTTP returns a nil server when http.addr is empty.
func provideHTTP(cfg *config.Config, engine *console.Engine, webhook *ingest.Handler, m *metrics.Metrics, logger *zap.Logger) (*httpapi.Server, error) {
	if cfg.HTTP.Addr == "" {
		return nil, nil
	}
	router := httpapi.Router(engine, webhook, m.Handler(), logger.Named("http"))
	return httpapi.New(cfg.HTTP.Addr, router, logger.Named("http"))
}

func provideHealth(layout paths.Layout, logger *zap.Logger) (*health.Server, error) {
	return health.NewServer(layout.HealthSocket(), logger.Named("health"))
}

func registerLifecycle(lc fx.Lifecycle, engine *console.Engine, srv *httpapi.Server, hs *health.Server, m *metrics.Metrics, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go m.Run(ctx, b)
			go hs.Follow(ctx, b, engine.Monitor().State)
			go func() {
				if err := hs.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			if srv != nil {
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("http server error", zap.Error(err))
					}
				}()
			}

			engine.Start(ctx)
			if !engine.Monitor().Credentials().Complete() {
				logger.Info("gateway settings incomplete, waiting for PUT /settings")
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if srv != nil {
				if err := srv.Stop(stopCtx); err != nil {
					logger.Warn("error stopping http server", zap.Error(err))
				}
			}
			if err := engine.Close(); err != nil {
				logger.Warn("error closing engine", zap.Error(err))
			}
			cancel()
			hs.Stop(stopCtx)
			return nil
		},
	})
}
