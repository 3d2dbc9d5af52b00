// Package remote talks to the central PostgreSQL backend. All methods work on
// generic row maps keyed by column name; entity-specific shaping happens in
// the engine, which is the only caller.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/mapper"
	"github.com/Guizzs26/go-offline-sync/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one backend row as column name to value
type Row map[string]any

// SelectOptions scopes a SelectAll call
type SelectOptions struct {
	// OnlyDeleted restricts the result to soft-deleted rows (deleted_at set).
	// The zero value returns active rows only
	OnlyDeleted bool
	// OfficeRemoteIDs, when non-empty, restricts rows to those office ids.
	// Applies to tables carrying an office_id column
	OfficeRemoteIDs []int64
	// RemoteIDs, when non-empty, restricts rows to those backend ids. Used
	// to scope the office pull, where the office's own id is the scope key
	RemoteIDs []int64
}

// Client wraps a pgx pool with the row-level operations the sync engine
// needs. The pool is created lazily-connected: an offline device must be able
// to boot without the backend answering
type Client struct {
	pool    *pgxpool.Pool
	builder *mapper.SQLBuilder
	logger  *slog.Logger
}

func NewClient(connString string, logger *slog.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend connection string: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 2 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend pool: %w", err)
	}

	return &Client{
		pool:    pool,
		builder: mapper.NewSQLBuilder(),
		logger:  logger.With("component", "remote"),
	}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// Ping answers whether the backend is reachable right now. Used as the
// connectivity probe before each sync cycle
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return classify("ping", c.pool.Ping(ctx))
}

func checkTable(table string) error {
	if !models.EntityKind(table).Valid() {
		return fmt.Errorf("table %q is not in the entity whitelist", table)
	}
	return nil
}

// Insert writes one row and returns the backend-assigned id
func (c *Client) Insert(ctx context.Context, table string, row Row) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	query, args, err := c.builder.BuildInsert(table, row)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := c.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, classify("insert "+table, err)
	}
	return id, nil
}

// InsertBatch writes several rows in one transaction. Used for the student
// rows of an attendance sheet, which must land together or not at all
func (c *Client) InsertBatch(ctx context.Context, table string, rows []Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return classify("begin batch insert "+table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, row := range rows {
		query, args, err := c.builder.BuildInsert(table, row)
		if err != nil {
			return err
		}
		var id int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return classify("batch insert "+table, err)
		}
	}
	return classify("commit batch insert "+table, tx.Commit(ctx))
}

// Update rewrites the row identified by keyColumn = keyValue
func (c *Client) Update(ctx context.Context, table, keyColumn string, keyValue any, row Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query, args, err := c.builder.BuildUpdate(table, keyColumn, keyValue, row)
	if err != nil {
		return err
	}

	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify("update "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", table, ErrNotFound)
	}
	return nil
}

// SoftDelete stamps deleted_at on the row identified by uuid
func (c *Client) SoftDelete(ctx context.Context, table, entityUUID string, deletedAt time.Time) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET deleted_at = $1, updated_at = $1 WHERE uuid = $2", table)
	tag, err := c.pool.Exec(ctx, query, deletedAt.UTC(), entityUUID)
	if err != nil {
		return classify("soft delete "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("soft delete %s: %w", table, ErrNotFound)
	}
	return nil
}

// Delete removes the row identified by uuid outright
func (c *Client) Delete(ctx context.Context, table, entityUUID string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query, args, err := c.builder.BuildDelete(table, "uuid", entityUUID)
	if err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return classify("delete "+table, err)
	}
	return nil
}

// DeleteWhereEq removes every row where column = value. Used to clear the
// student rows of an attendance sheet before re-inserting the current set
func (c *Client) DeleteWhereEq(ctx context.Context, table, column string, value any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query, args, err := c.builder.BuildDelete(table, column, value)
	if err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return classify("delete from "+table, err)
	}
	return nil
}

// LookupID resolves a uuid to its backend id. Returns ErrNotFound when the
// row has not been pushed yet
func (c *Client) LookupID(ctx context.Context, table, entityUUID string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var id int64
	query := fmt.Sprintf("SELECT id FROM %s WHERE uuid = $1", table)
	if err := c.pool.QueryRow(ctx, query, entityUUID).Scan(&id); err != nil {
		return 0, classify("lookup "+table, err)
	}
	return id, nil
}

// SelectAll reads rows from one table as generic maps. The engine uses two
// passes per soft-deleting table: active rows, then tombstones
func (c *Client) SelectAll(ctx context.Context, table string, opts SelectOptions) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	if models.EntityKind(table).SoftDeletable() {
		if opts.OnlyDeleted {
			clauses = append(clauses, "deleted_at IS NOT NULL")
		} else {
			clauses = append(clauses, "deleted_at IS NULL")
		}
	}
	if len(opts.OfficeRemoteIDs) > 0 {
		args = append(args, opts.OfficeRemoteIDs)
		clauses = append(clauses, fmt.Sprintf("office_id = ANY($%d)", len(args)))
	}
	if len(opts.RemoteIDs) > 0 {
		args = append(args, opts.RemoteIDs)
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	query := "SELECT * FROM " + table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("select "+table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify("scan "+table, err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+table, err)
	}
	return out, nil
}
