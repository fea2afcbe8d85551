// Package store persists batch run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

// historyDSN keeps a single writer in WAL mode; the cascade deletes of
// Prune and RecordRun need foreign keys on.
const historyDSN = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// Run statuses
const (
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Settings is the part of a batch's configuration worth keeping with its history
type Settings struct {
	Variants         []string `json:"variants"`
	SearchProvider   string   `json:"search_provider"`
	TranscodeToLossy bool     `json:"transcode_to_lossy"`
	TranscodeFormat  string   `json:"transcode_format,omitempty"`
	Artwork          bool     `json:"artwork"`
}

// Run is one recorded batch
type Run struct {
	ID           string     `json:"id"`
	Playlist     string     `json:"playlist"`
	SourcePath   string     `json:"source_path"`
	OutputDir    string     `json:"output_dir"`
	Status       string     `json:"status"`
	Total        int        `json:"total"`
	Downloaded   int        `json:"downloaded"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Settings     Settings   `json:"settings"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	Results []ResultRecord `json:"results,omitempty"`
	Files   []FileRecord   `json:"files,omitempty"`
}

// Duration returns how long the run took, zero while unfinished
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResultRecord is the resolution of one request
type ResultRecord struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Status   string `json:"status"`
	Variant  int    `json:"variant"`
	Query    string `json:"query,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
}

// FileRecord is one attributed audio file
type FileRecord struct {
	RunID       string `json:"run_id,omitempty"`
	Position    int    `json:"position"`
	Path        string `json:"path"`
	Container   string `json:"container"`
	SizeBytes   int64  `json:"size_bytes"`
	Fingerprint string `json:"fingerprint,omitempty"`
	TagError    string `json:"tag_error,omitempty"`
}

// HistoryStore manages batch history in the database
type HistoryStore struct {
	db      *sql.DB
	batchMu sync.Mutex
}

// NewHistoryStore wraps an already migrated database
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// OpenHistory opens the history database at path, creating its folder and
// schema on first use
func OpenHistory(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history folder: %w", err)
	}

	db, err := sql.Open("sqlite3", path+historyDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history %s: %w", path, err)
	}
	return NewHistoryStore(db), nil
}

// Close releases the database
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// DB exposes the connection for health checks
func (hs *HistoryStore) DB() *sql.DB {
	return hs.db
}

// RecordRun stores a run with its results and files in one transaction.
// Recording the same run ID again replaces the earlier record.
func (hs *HistoryStore) RecordRun(ctx context.Context, run *Run) error {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()

	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal run settings: %w", err)
	}

	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	tx, err := hs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_runs WHERE id = ?", run.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_runs (
			id, playlist, source_path, output_dir, status,
			total, downloaded, failed, skipped, error_message,
			settings_json, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Playlist, run.SourcePath, run.OutputDir, run.Status,
		run.Total, run.Downloaded, run.Failed, run.Skipped, run.ErrorMessage,
		string(settings), run.StartedAt.UTC(), finished,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_results (
			run_id, position, title, artist, album, status, variant, query, reason, attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer resultStmt.Close()

	for _, r := range run.Results {
		if _, err := resultStmt.ExecContext(ctx,
			run.ID, r.Position, r.Title, r.Artist, r.Album, r.Status, r.Variant, r.Query, r.Reason, r.Attempts,
		); err != nil {
			return fmt.Errorf("failed to insert result %d: %w", r.Position, err)
		}
	}

	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO downloaded_files (
			run_id, position, path, container, size_bytes, fingerprint, tag_error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer fileStmt.Close()

	for _, f := range run.Files {
		if _, err := fileStmt.ExecContext(ctx,
			run.ID, f.Position, f.Path, f.Container, f.SizeBytes, f.Fingerprint, f.TagError,
		); err != nil {
			return fmt.Errorf("failed to insert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, playlist, source_path, output_dir, status, total, downloaded, failed, skipped,
	COALESCE(error_message, ''), COALESCE(settings_json, ''), started_at, finished_at`

// ListRuns returns the most recent runs first, without results or files
func (hs *HistoryStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := hs.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM batch_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its results and files
func (hs *HistoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := hs.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM batch_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	results, err := hs.db.QueryContext(ctx, `
		SELECT position, title, COALESCE(artist, ''), COALESCE(album, ''), status, variant,
			COALESCE(query, ''), COALESCE(reason, ''), attempts
		FROM batch_results WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer results.Close()

	for results.Next() {
		var r ResultRecord
		if err := results.Scan(&r.Position, &r.Title, &r.Artist, &r.Album, &r.Status, &r.Variant, &r.Query, &r.Reason, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		run.Results = append(run.Results, r)
	}
	if err := results.Err(); err != nil {
		return nil, err
	}
	// Only one connection is open; release it before the next query
	results.Close()

	files, err := hs.db.QueryContext(ctx, `
		SELECT position, path, COALESCE(container, ''), size_bytes, COALESCE(fingerprint, ''), COALESCE(tag_error, '')
		FROM downloaded_files WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer files.Close()

	for files.Next() {
		var f FileRecord
		if err := files.Scan(&f.Position, &f.Path, &f.Container, &f.SizeBytes, &f.Fingerprint, &f.TagError); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		run.Files = append(run.Files, f)
	}
	return run, files.Err()
}

// FindByFingerprint returns the files recorded with the given fingerprint in
// runs other than excludeRun, oldest first
func (hs *HistoryStore) FindByFingerprint(ctx context.Context, fingerprint, excludeRun string) ([]FileRecord, error) {
	rows, err := hs.db.QueryContext(ctx, `
		SELECT run_id, position, path, COALESCE(container, ''), size_bytes, fingerprint, COALESCE(tag_error, '')
		FROM downloaded_files WHERE fingerprint = ? AND run_id != ? ORDER BY id
	`, fingerprint, excludeRun)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.RunID, &f.Position, &f.Path, &f.Container, &f.SizeBytes, &f.Fingerprint, &f.TagError); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes runs started before cutoff and reports how many were removed
func (hs *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := hs.db.ExecContext(ctx, "DELETE FROM batch_runs WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		settings string
		finished sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Playlist, &run.SourcePath, &run.OutputDir, &run.Status,
		&run.Total, &run.Downloaded, &run.Failed, &run.Skipped,
		&run.ErrorMessage, &settings, &run.StartedAt, &finished,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run settings: %w", err)
		}
	}
	return &run, nil
}
