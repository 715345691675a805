package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedbridge/migrations"
)

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = "./data/state.db"
	}
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load returns every recorded (feed, entry) pair.
func (s *SQLite) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed, entry_id FROM delivered_entries ORDER BY feed, entry_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query delivered entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := Snapshot{}
	for rows.Next() {
		var feed, id string
		if err := rows.Scan(&feed, &id); err != nil {
			return nil, fmt.Errorf("scan delivered entry: %w", err)
		}
		snap[feed] = append(snap[feed], id)
	}
	return snap, rows.Err()
}

// Save inserts every identifier of snap that is not stored yet, in one
// transaction. Rows are never deleted.
func (s *SQLite) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO delivered_entries (feed, entry_id) VALUES (?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for feed, ids := range snap {
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, feed, id); err != nil {
				return fmt.Errorf("insert delivered entry: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
