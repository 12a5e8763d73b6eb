package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at the given path with WAL mode and
// foreign keys enabled, creating the parent directory if needed.
// The special path ":memory:" opens an in-memory database.
func Open(dbPath string) (*sql.DB, error) {
	if !strings.HasPrefix(dbPath, ":memory:") {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single writer connection. SQLite serializes writes anyway, and a
	// shared connection keeps ":memory:" from splitting into several
	// independent databases.
	db.SetMaxOpenConns(1)

	return db, nil
}
