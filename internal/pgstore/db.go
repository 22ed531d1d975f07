// Package pgstore is the Postgres backend of the message store. Live feeds use
// LISTEN/NOTIFY, so inserts made by any process sharing the database reach
// every subscriber.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/pgstore/migrations"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

const notifyChannel = "wppdesk_messages"

// DB is a pooled Postgres connection.
type DB struct {
	pool   *pgxpool.Pool
	bus    *bus.Bus
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection. Inserts made through
// the returned DB are announced on b; a nil bus gets a private one.
func Open(ctx context.Context, dsn string, b *bus.Bus, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{pool: pool, bus: b, logger: logger}, nil
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Migrate runs all pending migrations.
func (db *DB) Migrate() (*store.MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer func() { _ = sqlDB.Close() }()

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &store.MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
