// Package store is the durable, transactional home for every entity and for
// the change queue. It owns the embedded SQLite database that holds the
// authoritative on-device copy of the data plus per-row sync metadata.
//
// All multi-row mutations run inside a single transaction so partial writes
// are never observable. Every user-initiated mutation tags the affected row
// (is_synced=0, operation_type set) and appends a change queue entry in the
// same transaction; rows folded in by a pull arrive already synced and never
// touch the queue.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when the targeted row does not exist locally
	ErrNotFound = errors.New("store: row not found")

	// ErrMissingReference is a validation failure: a required office/level/
	// student reference does not resolve to an active local row. It is
	// raised before anything is written
	ErrMissingReference = errors.New("store: missing required reference")

	// ErrDuplicateRecord signals the duplicate-date guard: an attendance
	// record already exists for the same (date, office, level)
	ErrDuplicateRecord = errors.New("store: attendance record already exists for this date, office and level")

	// ErrInvalidInput covers empty names, unknown entity kinds and bad
	// attendance statuses
	ErrInvalidInput = errors.New("store: invalid input")
)

// timeLayout is how timestamps are persisted. Text keeps the schema portable
// and makes updated_at comparisons trivial to inspect with the sqlite3 shell
const timeLayout = time.RFC3339Nano

// Store wraps the embedded SQLite database
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) the local database file and applies the pragmas the
// engine relies on: WAL for concurrent reads, foreign keys, busy timeout.
// The caller must Close() the store when done
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping local database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Info("Local store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying connection for migrations and tests
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close shuts down the database connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error. It is the unit
// of atomicity for every multi-statement write in this package
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older app versions used plain RFC3339
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func remoteIDArg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
