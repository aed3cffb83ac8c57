// Package store provides the embedded SQLite storage layer for the
// portal.
//
// The database runs in embedded mode with WAL for concurrent reads.
// Ownership follows the domain model: projects own groups, groups own
// model combinations; key reviews carry a group foreign key for cascading
// deletes but are matched during reconciliation by recomputed composite
// key (key name + group name + model names), never by row id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup by identifier matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection with portal-specific queries.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if needed. WAL mode, a 5 second busy
// timeout, and foreign keys are enabled. The caller must Close() when
// done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		admin_username TEXT NOT NULL,
		refresh_schedule TEXT NOT NULL DEFAULT 'Weekly',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_participants (
		project_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'reviewer',
		added_by TEXT NOT NULL,
		PRIMARY KEY (project_id, username),
		FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS grps (
		group_id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		comparison_type TEXT NOT NULL,
		target_branch TEXT NOT NULL DEFAULT '',
		ref1_branch TEXT NOT NULL DEFAULT '',
		ref2_branch TEXT NOT NULL DEFAULT '',
		ref3_branch TEXT NOT NULL DEFAULT '',
		UNIQUE (project_id, name),
		FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS group_model_mapping (
		gm_id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL,
		target_model TEXT NOT NULL DEFAULT '',
		ref1_model TEXT NOT NULL DEFAULT '',
		ref2_model TEXT NOT NULL DEFAULT '',
		ref3_model TEXT NOT NULL DEFAULT '',
		UNIQUE (group_id, target_model, ref1_model, ref2_model, ref3_model),
		FOREIGN KEY (group_id) REFERENCES grps(group_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS key_reviews (
		key_review_id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		group_id INTEGER NOT NULL,
		key_name TEXT NOT NULL,
		group_name TEXT NOT NULL,
		target_model TEXT NOT NULL DEFAULT '',
		ref1_model TEXT NOT NULL DEFAULT '',
		ref2_model TEXT NOT NULL DEFAULT '',
		ref3_model TEXT NOT NULL DEFAULT '',
		target_val TEXT NOT NULL DEFAULT '',
		ref1_val TEXT NOT NULL DEFAULT '',
		ref2_val TEXT NOT NULL DEFAULT '',
		ref3_val TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unreviewed',
		kona_ids TEXT NOT NULL DEFAULT '',
		cl_numbers TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE,
		FOREIGN KEY (group_id) REFERENCES grps(group_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		comment_id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_review_id INTEGER NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (key_review_id) REFERENCES key_reviews(key_review_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_grps_project ON grps(project_id);
	CREATE INDEX IF NOT EXISTS idx_gmm_group ON group_model_mapping(group_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_project ON key_reviews(project_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_group ON key_reviews(group_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON key_reviews(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_comments_review ON comments(key_review_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// formatTime renders timestamps for TEXT columns.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads timestamps back from TEXT columns. Unparseable values
// yield the zero time rather than an error; the column is informational.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
