// Package config reads and writes the profile settings file. Values from the
// environment (prefix WPPDESK_) override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/paths"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. WPPDESK_GATEWAY_API_KEY.
const EnvPrefix = "wppdesk"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is a profile's config.toml.
type Config struct {
	LogLevel string        `toml:"log_level" split_words:"true"`
	Gateway  GatewayConfig `toml:"gateway"`
	Store    StoreConfig   `toml:"store"`
	Monitor  MonitorConfig `toml:"monitor"`
	HTTP     HTTPConfig    `toml:"http"`
}

// GatewayConfig holds the gateway credentials plus webhook settings.
type GatewayConfig struct {
	BaseURL      string `toml:"base_url" split_words:"true"`
	APIKey       string `toml:"api_key" split_words:"true"`
	Instance     string `toml:"instance"`
	Integration  string `toml:"integration,omitempty"`
	WebhookToken string `toml:"webhook_token,omitempty" split_words:"true"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Driver      string `toml:"driver"`
	PostgresDSN string `toml:"postgres_dsn,omitempty" split_words:"true"`
}

// MonitorConfig tunes connection polling.
type MonitorConfig struct {
	Interval   Duration `toml:"interval"`
	PairingTTL Duration `toml:"pairing_ttl" split_words:"true"`
}

// HTTPConfig is the listen address of the webhook and control server.
// An empty Addr disables the server.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as "10s" in TOML and the environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the settings used for keys missing from the file.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store:    StoreConfig{Driver: DriverSQLite},
		Monitor: MonitorConfig{
			Interval:   Duration{10 * time.Second},
			PairingTTL: Duration{60 * time.Second},
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8787"},
	}
}

// Credentials returns the gateway credentials value.
func (g GatewayConfig) Credentials() gateway.Credentials {
	return gateway.Credentials{
		BaseURL:  strings.TrimSpace(g.BaseURL),
		APIKey:   strings.TrimSpace(g.APIKey),
		Instance: strings.TrimSpace(g.Instance),
	}
}

// SetCredentials stores creds into the gateway section.
func (g *GatewayConfig) SetCredentials(creds gateway.Credentials) {
	g.BaseURL = creds.BaseURL
	g.APIKey = creds.APIKey
	g.Instance = creds.Instance
}

// Validate checks the settings. Incomplete gateway credentials are allowed:
// the console stays in the unknown state until they are filled in.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if inst := strings.TrimSpace(c.Gateway.Instance); inst != "" {
		if err := paths.ValidateInstance(inst); err != nil {
			errs = append(errs, fmt.Errorf("gateway.instance: %w", err))
		}
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Monitor.PairingTTL.Duration <= 0 {
		errs = append(errs, errors.New("monitor.pairing_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Load reads config from path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads path (a missing file yields the defaults), applies
// environment overrides and validates the result.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the WPPDESK_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
