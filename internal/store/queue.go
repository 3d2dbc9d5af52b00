package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
)

// The change queue is the single source of truth for push work. The engine
// never infers pending work by diffing snapshots: if it is not in the queue,
// it does not get pushed.

// enqueueTx appends a change entry inside the caller's transaction so the
// entity mutation and its queue entry commit or roll back together
func enqueueTx(ctx context.Context, tx *sql.Tx, kind models.EntityKind, op models.Operation, entityUUID string, snapshot models.Snapshot) error {
	if !models.KindRegistry[kind].Queued {
		return fmt.Errorf("%w: kind %q is not queued directly", ErrInvalidInput, kind)
	}
	payload, err := models.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_queue (entity, entity_uuid, operation, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(kind), entityUUID, string(op), nullableBytes(payload), fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// ListPending returns pending changes in insertion order. An empty kind
// returns the whole queue; a concrete kind filters at the query layer
func (s *Store) ListPending(ctx context.Context, kind models.EntityKind) ([]models.ChangeEntry, error) {
	query := `SELECT id, entity, entity_uuid, operation, payload, created_at FROM sync_queue`
	var args []any
	if kind != "" {
		query += ` WHERE entity = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ChangeEntry
	for rows.Next() {
		var (
			entry   models.ChangeEntry
			ent, op string
			payload sql.NullString
			created string
		)
		if err := rows.Scan(&entry.ID, &ent, &entry.EntityUUID, &op, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entry.Kind = models.EntityKind(ent)
		entry.Operation = models.Operation(op)
		entry.CreatedAt = parseTime(created)
		if payload.Valid {
			entry.Payload = json.RawMessage(payload.String)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RemoveChange deletes a confirmed (or reconciled-away) queue entry
func (s *Store) RemoveChange(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", id, err)
	}
	return nil
}

// CountPending reports the push backlog, optionally scoped to one kind
func (s *Store) CountPending(ctx context.Context, kind models.EntityKind) (int, error) {
	query := `SELECT COUNT(*) FROM sync_queue`
	var args []any
	if kind != "" {
		query += ` WHERE entity = ?`
		args = append(args, string(kind))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n, nil
}

// PurgeOlderThan drops queue entries older than age. This is janitor work for
// entries stranded by bugs or decommissioned entities; routine entries are
// removed one by one as pushes confirm
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().Add(-age))
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale queue entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Purged stale change queue entries", "count", n, "older_than", age.String())
	}
	return n, nil
}
