package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the per-profile state.db. It holds client-local state only;
// everything shared lives in the gateway.
type DB struct {
	*sql.DB
}

// stateDSN is appended to the state.db path. The outbox sender and the
// API handlers write from different goroutines, so writers take the
// SQLite lock at BEGIN and wait on each other rather than fail.
const stateDSN = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// Open opens or creates state.db at path, creating its profile directory
// owner-only when missing. Migrations are not applied here.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+stateDSN)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	if mode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("open state db %s: journal mode %q, want wal", path, mode)
	}
	return &DB{db}, nil
}
