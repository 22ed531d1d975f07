package store

import (
	"database/sql"
	"fmt"

	"github.com/matheus3301/wppdesk/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database holding conversations and messages.
// Inserts are handed to the live feeds and announced on the bus.
type DB struct {
	*sql.DB
	bus   *bus.Bus
	feeds *hub
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// A nil bus gets a private one.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if b == nil {
		b = bus.New()
	}
	return &DB{DB: db, bus: b, feeds: newHub()}, nil
}
