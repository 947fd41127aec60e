// Package storage opens the run ledger database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the ledger at path and ensures
// its tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := requireLocalFilesystem(path, detectFilesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; runs for different sources share the ledger.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the ledger tables and indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id                 TEXT PRIMARY KEY,
  source             TEXT NOT NULL,
  source_fingerprint TEXT,
  config_fingerprint TEXT,
  graph_fingerprint  TEXT,
  output_dir         TEXT NOT NULL,
  temp_dir           TEXT NOT NULL,
  status             TEXT NOT NULL,
  last_error         TEXT,
  started_at         TEXT NOT NULL,
  finished_at        TEXT
);`,
		`CREATE TABLE IF NOT EXISTS channel_log (
  run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  role        TEXT NOT NULL,
  class       TEXT NOT NULL,
  transform   TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  path        TEXT NOT NULL,
  fingerprint TEXT,
  error       TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  recorded_at TEXT NOT NULL,
  PRIMARY KEY (run_id, role)
);`,
		`CREATE INDEX IF NOT EXISTS runs_source_started_at_idx ON runs(source, started_at);`,
		`CREATE INDEX IF NOT EXISTS channel_log_path_idx ON channel_log(path);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
