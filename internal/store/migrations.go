package store

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
-- One row per batch
CREATE TABLE IF NOT EXISTS batch_runs (
    id TEXT PRIMARY KEY,
    playlist TEXT NOT NULL,
    source_path TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    status TEXT NOT NULL,
    total INTEGER DEFAULT 0,
    downloaded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON batch_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_playlist ON batch_runs(playlist);

-- Resolution of every request in a batch
CREATE TABLE IF NOT EXISTS batch_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    artist TEXT,
    album TEXT,
    status TEXT NOT NULL,
    variant INTEGER DEFAULT 0,
    query TEXT,
    reason TEXT,
    attempts INTEGER DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES batch_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_results_run ON batch_results(run_id, position);

-- Files attributed to requests
CREATE TABLE IF NOT EXISTS downloaded_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    path TEXT NOT NULL,
    container TEXT,
    size_bytes INTEGER DEFAULT 0,
    fingerprint TEXT,
    tag_error TEXT,
    FOREIGN KEY (run_id) REFERENCES batch_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_files_run ON downloaded_files(run_id);
CREATE INDEX IF NOT EXISTS idx_files_fingerprint ON downloaded_files(fingerprint);

-- Migration tracking table
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		Version: 2,
		Name:    "add_run_settings",
		Up: `
-- Variants and fetch options the batch ran with, as JSON
ALTER TABLE batch_runs ADD COLUMN settings_json TEXT;
`,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	// Create migrations table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	// Apply pending migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		// Begin transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		// Execute migration
		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		// Record migration
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		// Commit transaction
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// getCurrentVersion returns the current schema version
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
