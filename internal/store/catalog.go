package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"

	"github.com/google/uuid"
)

// Offices and levels share one shape (a named reference row), so they share
// one set of accessors keyed by entity kind.

func catalogTable(kind models.EntityKind) (string, error) {
	if kind != models.KindOffice && kind != models.KindLevel {
		return "", fmt.Errorf("%w: %q is not a catalog kind", ErrInvalidInput, kind)
	}
	return string(kind), nil
}

const catalogColumns = `id, uuid, name, remote_id, is_synced, operation_type, created_at, updated_at, deleted_at`

func scanCatalogItem(row interface{ Scan(...any) error }) (*models.CatalogItem, error) {
	var (
		item       models.CatalogItem
		remoteID   sql.NullInt64
		opType     sql.NullString
		created    string
		updated    string
		deleted    sql.NullString
		syncedFlag int
	)
	err := row.Scan(&item.LocalID, &item.UUID, &item.Name, &remoteID, &syncedFlag, &opType, &created, &updated, &deleted)
	if err != nil {
		return nil, err
	}
	item.RemoteID = int64Ptr(remoteID)
	item.Synced = syncedFlag == 1
	if opType.Valid {
		item.PendingOp = models.Operation(opType.String)
	}
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	item.DeletedAt = parseTimePtr(deleted)
	return &item, nil
}

// CreateCatalogItem inserts a new office or level and queues it for push.
// The UUID is generated here and is the row's identity for its whole life
func (s *Store) CreateCatalogItem(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogItem, error) {
	table, err := catalogTable(kind)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	item := &models.CatalogItem{
		SyncMeta: models.SyncMeta{
			UUID:      uuid.NewString(),
			PendingOp: models.OpInsert,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name: name,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (uuid, name, is_synced, operation_type, created_at, updated_at)
			VALUES (?, ?, 0, ?, ?, ?)`, table),
			item.UUID, item.Name, string(models.OpInsert), fmtTime(now), fmtTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", table, err)
		}
		item.LocalID, _ = res.LastInsertId()

		return enqueueTx(ctx, tx, kind, models.OpInsert, item.UUID, models.CatalogSnapshot{
			UUID:      item.UUID,
			Name:      item.Name,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateCatalogItem renames an active office or level and queues the update
func (s *Store) UpdateCatalogItem(ctx context.Context, kind models.EntityKind, itemUUID, name string) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET name = ?, updated_at = ?, is_synced = 0, operation_type = ?
			WHERE uuid = ? AND deleted_at IS NULL`, table),
			name, fmtTime(now), string(models.OpUpdate), itemUUID,
		)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		item, err := getCatalogItemTx(ctx, tx, table, itemUUID)
		if err != nil {
			return err
		}
		return enqueueTx(ctx, tx, kind, models.OpUpdate, itemUUID, models.CatalogSnapshot{
			UUID:      item.UUID,
			Name:      item.Name,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	})
}

// SoftDeleteCatalogItem stamps deleted_at so the deletion can propagate to
// the backend and from there to other devices. The row stays until another
// device's tombstone is observed during a pull
func (s *Store) SoftDeleteCatalogItem(ctx context.Context, kind models.EntityKind, itemUUID string) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET deleted_at = ?, updated_at = ?, is_synced = 0, operation_type = ?
			WHERE uuid = ? AND deleted_at IS NULL`, table),
			fmtTime(now), fmtTime(now), string(models.OpDelete), itemUUID,
		)
		if err != nil {
			return fmt.Errorf("failed to soft delete %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		item, err := getCatalogItemTx(ctx, tx, table, itemUUID)
		if err != nil {
			return err
		}
		return enqueueTx(ctx, tx, kind, models.OpDelete, itemUUID, models.CatalogSnapshot{
			UUID:      item.UUID,
			Name:      item.Name,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
			DeletedAt: item.DeletedAt,
		})
	})
}

func getCatalogItemTx(ctx context.Context, tx *sql.Tx, table, itemUUID string) (*models.CatalogItem, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE uuid = ?`, catalogColumns, table), itemUUID)
	item, err := scanCatalogItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return item, err
}

// GetCatalogItem returns the row for a UUID, including soft-deleted rows.
// Returns (nil, nil) when the row does not exist at all
func (s *Store) GetCatalogItem(ctx context.Context, kind models.EntityKind, itemUUID string) (*models.CatalogItem, error) {
	table, err := catalogTable(kind)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE uuid = ?`, catalogColumns, table), itemUUID)
	item, err := scanCatalogItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ListCatalog returns active rows only, name-ordered with Arabic collation
func (s *Store) ListCatalog(ctx context.Context, kind models.EntityKind) ([]models.CatalogItem, error) {
	items, err := s.listCatalog(ctx, kind, false)
	if err != nil {
		return nil, err
	}
	sortByName(items, func(c models.CatalogItem) string { return c.Name })
	return items, nil
}

// ListCatalogAll includes soft-deleted rows; the pull fold needs them to
// compare timestamps and pending operations
func (s *Store) ListCatalogAll(ctx context.Context, kind models.EntityKind) ([]models.CatalogItem, error) {
	return s.listCatalog(ctx, kind, true)
}

func (s *Store) listCatalog(ctx context.Context, kind models.EntityKind, includeDeleted bool) ([]models.CatalogItem, error) {
	table, err := catalogTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, catalogColumns, table)
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// MarkCatalogSynced clears the pending flag after a confirmed push. When the
// push was the row's first (an INSERT), remoteID records the backend identity
func (s *Store) MarkCatalogSynced(ctx context.Context, kind models.EntityKind, itemUUID string, remoteID *int64) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET is_synced = 1, operation_type = NULL`, table)
	args := []any{}
	if remoteID != nil {
		query += `, remote_id = ?`
		args = append(args, *remoteID)
	}
	query += ` WHERE uuid = ?`
	args = append(args, itemUUID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", table, err)
	}
	return nil
}

// HardDeleteCatalogItem removes the row outright. Used when the backend
// reports a uniqueness conflict (the remote copy wins) and when a pull
// observes a tombstone written by another device
func (s *Store) HardDeleteCatalogItem(ctx context.Context, kind models.EntityKind, itemUUID string) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE uuid = ?`, table), itemUUID); err != nil {
		return fmt.Errorf("failed to hard delete %s row: %w", table, err)
	}
	return nil
}

// ApplyCatalogPull folds one kind's remote state into the store atomically:
// upserts arrive already reconciled by the engine (last-write-wins applied),
// purges are uuids soft-deleted remotely. One transaction per kind
func (s *Store) ApplyCatalogPull(ctx context.Context, kind models.EntityKind, upserts []models.CatalogItem, purge []string) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range upserts {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (uuid, name, remote_id, is_synced, operation_type, created_at, updated_at, deleted_at)
				VALUES (?, ?, ?, 1, NULL, ?, ?, ?)
				ON CONFLICT (uuid) DO UPDATE SET
					name = excluded.name,
					remote_id = excluded.remote_id,
					is_synced = 1,
					operation_type = NULL,
					updated_at = excluded.updated_at,
					deleted_at = excluded.deleted_at`, table),
				item.UUID, item.Name, remoteIDArg(item.RemoteID),
				fmtTime(item.CreatedAt), fmtTime(item.UpdatedAt), fmtTimePtr(item.DeletedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to fold remote %s row %s: %w", table, item.UUID, err)
			}
		}
		for _, u := range purge {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE uuid = ?`, table), u); err != nil {
				return fmt.Errorf("failed to purge %s row %s: %w", table, u, err)
			}
		}
		return nil
	})
}
