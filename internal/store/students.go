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

// StudentInput is the caller-facing shape for creating or updating a student
type StudentInput struct {
	Name       string
	BirthDate  *string
	Phone      *string
	Address    *string
	OfficeUUID string
	LevelUUID  string
}

const studentColumns = `id, uuid, name, birth_date, phone, address, office_uuid, level_uuid,
	remote_id, is_synced, operation_type, created_at, updated_at, deleted_at`

func scanStudent(row interface{ Scan(...any) error }) (*models.Student, error) {
	var (
		st         models.Student
		birth      sql.NullString
		phone      sql.NullString
		address    sql.NullString
		remoteID   sql.NullInt64
		opType     sql.NullString
		created    string
		updated    string
		deleted    sql.NullString
		syncedFlag int
	)
	err := row.Scan(&st.LocalID, &st.UUID, &st.Name, &birth, &phone, &address,
		&st.OfficeUUID, &st.LevelUUID, &remoteID, &syncedFlag, &opType, &created, &updated, &deleted)
	if err != nil {
		return nil, err
	}
	st.BirthDate = strPtr(birth)
	st.Phone = strPtr(phone)
	st.Address = strPtr(address)
	st.RemoteID = int64Ptr(remoteID)
	st.Synced = syncedFlag == 1
	if opType.Valid {
		st.PendingOp = models.Operation(opType.String)
	}
	st.CreatedAt = parseTime(created)
	st.UpdatedAt = parseTime(updated)
	st.DeletedAt = parseTimePtr(deleted)
	return &st, nil
}

func (in *StudentInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: student name is required", ErrInvalidInput)
	}
	if in.OfficeUUID == "" || in.LevelUUID == "" {
		return fmt.Errorf("%w: office and level are required", ErrMissingReference)
	}
	return nil
}

// checkReference verifies the referenced row exists and is active. Runs
// before any write so a failed validation leaves nothing behind
func checkReference(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, table, refUUID string) error {
	var one int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE uuid = ? AND deleted_at IS NULL`, table), refUUID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no active %s row %s", ErrMissingReference, table, refUUID)
	}
	return err
}

// CreateStudent inserts a student after validating its office and level
// references, and queues the insert for push
func (s *Store) CreateStudent(ctx context.Context, in StudentInput) (*models.Student, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := checkReference(ctx, s.db, "offices", in.OfficeUUID); err != nil {
		return nil, err
	}
	if err := checkReference(ctx, s.db, "levels", in.LevelUUID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st := &models.Student{
		SyncMeta: models.SyncMeta{
			UUID:      uuid.NewString(),
			PendingOp: models.OpInsert,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name:       in.Name,
		BirthDate:  in.BirthDate,
		Phone:      in.Phone,
		Address:    in.Address,
		OfficeUUID: in.OfficeUUID,
		LevelUUID:  in.LevelUUID,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO students (uuid, name, birth_date, phone, address, office_uuid, level_uuid,
				is_synced, operation_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			st.UUID, st.Name, nullableStr(st.BirthDate), nullableStr(st.Phone), nullableStr(st.Address),
			st.OfficeUUID, st.LevelUUID, string(models.OpInsert), fmtTime(now), fmtTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert student: %w", err)
		}
		st.LocalID, _ = res.LastInsertId()

		return enqueueTx(ctx, tx, models.KindStudent, models.OpInsert, st.UUID, studentSnapshot(st))
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateStudent replaces the editable fields of an active student
func (s *Store) UpdateStudent(ctx context.Context, studentUUID string, in StudentInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	if err := checkReference(ctx, s.db, "offices", in.OfficeUUID); err != nil {
		return err
	}
	if err := checkReference(ctx, s.db, "levels", in.LevelUUID); err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE students
			SET name = ?, birth_date = ?, phone = ?, address = ?, office_uuid = ?, level_uuid = ?,
				updated_at = ?, is_synced = 0, operation_type = ?
			WHERE uuid = ? AND deleted_at IS NULL`,
			in.Name, nullableStr(in.BirthDate), nullableStr(in.Phone), nullableStr(in.Address),
			in.OfficeUUID, in.LevelUUID, fmtTime(now), string(models.OpUpdate), studentUUID,
		)
		if err != nil {
			return fmt.Errorf("failed to update student: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		st, err := getStudentTx(ctx, tx, studentUUID)
		if err != nil {
			return err
		}
		return enqueueTx(ctx, tx, models.KindStudent, models.OpUpdate, studentUUID, studentSnapshot(st))
	})
}

// SoftDeleteStudent tombstones a student and queues the deletion
func (s *Store) SoftDeleteStudent(ctx context.Context, studentUUID string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE students
			SET deleted_at = ?, updated_at = ?, is_synced = 0, operation_type = ?
			WHERE uuid = ? AND deleted_at IS NULL`,
			fmtTime(now), fmtTime(now), string(models.OpDelete), studentUUID,
		)
		if err != nil {
			return fmt.Errorf("failed to soft delete student: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		st, err := getStudentTx(ctx, tx, studentUUID)
		if err != nil {
			return err
		}
		return enqueueTx(ctx, tx, models.KindStudent, models.OpDelete, studentUUID, studentSnapshot(st))
	})
}

func studentSnapshot(st *models.Student) models.StudentSnapshot {
	return models.StudentSnapshot{
		UUID:       st.UUID,
		Name:       st.Name,
		BirthDate:  st.BirthDate,
		Phone:      st.Phone,
		Address:    st.Address,
		OfficeUUID: st.OfficeUUID,
		LevelUUID:  st.LevelUUID,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
		DeletedAt:  st.DeletedAt,
	}
}

func getStudentTx(ctx context.Context, tx *sql.Tx, studentUUID string) (*models.Student, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM students WHERE uuid = ?`, studentColumns), studentUUID)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return st, err
}

// GetStudent returns the row for a UUID including soft-deleted rows, or
// (nil, nil) when it does not exist
func (s *Store) GetStudent(ctx context.Context, studentUUID string) (*models.Student, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM students WHERE uuid = ?`, studentColumns), studentUUID)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// ListStudents returns active students, optionally filtered to one office and
// level (the attendance form view). Name-ordered with Arabic collation
func (s *Store) ListStudents(ctx context.Context, officeUUID, levelUUID string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE deleted_at IS NULL`, studentColumns)
	var args []any
	if officeUUID != "" {
		query += ` AND office_uuid = ?`
		args = append(args, officeUUID)
	}
	if levelUUID != "" {
		query += ` AND level_uuid = ?`
		args = append(args, levelUUID)
	}

	students, err := s.queryStudents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sortByName(students, func(st models.Student) string { return st.Name })
	return students, nil
}

// ListStudentsAll includes soft-deleted rows for the pull fold
func (s *Store) ListStudentsAll(ctx context.Context) ([]models.Student, error) {
	return s.queryStudents(ctx, fmt.Sprintf(`SELECT %s FROM students`, studentColumns))
}

func (s *Store) queryStudents(ctx context.Context, query string, args ...any) ([]models.Student, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// MarkStudentSynced clears the pending flag after a confirmed push
func (s *Store) MarkStudentSynced(ctx context.Context, studentUUID string, remoteID *int64) error {
	query := `UPDATE students SET is_synced = 1, operation_type = NULL`
	args := []any{}
	if remoteID != nil {
		query += `, remote_id = ?`
		args = append(args, *remoteID)
	}
	query += ` WHERE uuid = ?`
	args = append(args, studentUUID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark student synced: %w", err)
	}
	return nil
}

// HardDeleteStudent removes the row outright (conflict reconciliation or a
// remotely observed tombstone)
func (s *Store) HardDeleteStudent(ctx context.Context, studentUUID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM students WHERE uuid = ?`, studentUUID); err != nil {
		return fmt.Errorf("failed to hard delete student: %w", err)
	}
	return nil
}

// ApplyStudentPull folds remote student state into the store in one
// transaction: reconciled upserts plus uuids tombstoned remotely
func (s *Store) ApplyStudentPull(ctx context.Context, upserts []models.Student, purge []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, st := range upserts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO students (uuid, name, birth_date, phone, address, office_uuid, level_uuid,
					remote_id, is_synced, operation_type, created_at, updated_at, deleted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, ?, ?, ?)
				ON CONFLICT (uuid) DO UPDATE SET
					name = excluded.name,
					birth_date = excluded.birth_date,
					phone = excluded.phone,
					address = excluded.address,
					office_uuid = excluded.office_uuid,
					level_uuid = excluded.level_uuid,
					remote_id = excluded.remote_id,
					is_synced = 1,
					operation_type = NULL,
					updated_at = excluded.updated_at,
					deleted_at = excluded.deleted_at`,
				st.UUID, st.Name, nullableStr(st.BirthDate), nullableStr(st.Phone), nullableStr(st.Address),
				st.OfficeUUID, st.LevelUUID, remoteIDArg(st.RemoteID),
				fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt), fmtTimePtr(st.DeletedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to fold remote student %s: %w", st.UUID, err)
			}
		}
		for _, u := range purge {
			if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE uuid = ?`, u); err != nil {
				return fmt.Errorf("failed to purge student %s: %w", u, err)
			}
		}
		return nil
	})
}
