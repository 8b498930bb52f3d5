package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    family TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`

const (
	sqliteLoadSnapshotSQL   = `SELECT document FROM snapshots WHERE family = ?;`
	sqliteUpsertSnapshotSQL = `INSERT INTO snapshots (family, document, updated_at)
    VALUES (?, ?, datetime('now'))
    ON CONFLICT (family) DO UPDATE
    SET document = excluded.document,
        updated_at = excluded.updated_at;`
)

// SQLiteSnapshots keeps snapshot documents in an embedded SQLite database.
type SQLiteSnapshots struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path.
func OpenSQLite(path string) (*SQLiteSnapshots, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteSnapshots{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// OpenSQLiteMemory creates an in-memory database, mostly for tests.
func OpenSQLiteMemory() (*SQLiteSnapshots, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	// every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)

	s := &SQLiteSnapshots{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteSnapshots) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// Close releases the database handle.
func (s *SQLiteSnapshots) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the family document.
func (s *SQLiteSnapshots) Load(ctx context.Context, family string) ([]byte, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, sqliteLoadSnapshotSQL, family).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", family, err)
	}
	return []byte(doc), true, nil
}

// Save upserts the family document inside a transaction.
func (s *SQLiteSnapshots) Save(ctx context.Context, family string, doc []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteUpsertSnapshotSQL, family, string(doc)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert snapshot %s: %w", family, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", family, err)
	}
	return nil
}

var _ Snapshots = (*SQLiteSnapshots)(nil)
