// Package flagstore persists the client-asserted conversation flags
// (favorite, pin, archive) across process restarts. Each flag family is its
// own set keyed by conversation id. Reads happen once at startup; writes are
// synchronous on every toggle.
package flagstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection backing the flag side-store.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open flag db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping flag db: %w", err)
	}
	return &DB{db}, nil
}
