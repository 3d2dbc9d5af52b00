package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"

	"github.com/google/uuid"
)

const attendanceColumns = `id, uuid, date, office_uuid, level_uuid, remote_id, is_synced, operation_type, created_at, updated_at`

func scanAttendanceRecord(row interface{ Scan(...any) error }) (*models.AttendanceRecord, error) {
	var (
		rec        models.AttendanceRecord
		remoteID   sql.NullInt64
		opType     sql.NullString
		created    string
		updated    string
		syncedFlag int
	)
	err := row.Scan(&rec.LocalID, &rec.UUID, &rec.Date, &rec.OfficeUUID, &rec.LevelUUID,
		&remoteID, &syncedFlag, &opType, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.RemoteID = int64Ptr(remoteID)
	rec.Synced = syncedFlag == 1
	if opType.Valid {
		rec.PendingOp = models.Operation(opType.String)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// SaveAttendance creates or replaces one attendance sheet in a single
// transaction. An empty recordUUID creates a new record; the duplicate-date
// guard then rejects a second sheet for the same (date, office, level).
// Statuses always replace the full existing set: the old rows are deleted and
// the submitted ones inserted, never patched one by one
func (s *Store) SaveAttendance(ctx context.Context, date, officeUUID, levelUUID string, statuses []models.StudentStatus, recordUUID string) (*models.AttendanceRecord, error) {
	if date == "" {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if officeUUID == "" || levelUUID == "" {
		return nil, fmt.Errorf("%w: office and level are required", ErrMissingReference)
	}
	for _, st := range statuses {
		if !st.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown attendance status %q", ErrInvalidInput, st.Status)
		}
	}
	if err := checkReference(ctx, s.db, "offices", officeUUID); err != nil {
		return nil, err
	}
	if err := checkReference(ctx, s.db, "levels", levelUUID); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if err := checkReference(ctx, s.db, "students", st.StudentUUID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	creating := recordUUID == ""
	if creating {
		recordUUID = uuid.NewString()
	}

	var rec *models.AttendanceRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if creating {
			// Duplicate-date guard: one sheet per (date, office, level)
			var one int
			err := tx.QueryRowContext(ctx, `
				SELECT 1 FROM attendance_records
				WHERE date = ? AND office_uuid = ? AND level_uuid = ?`,
				date, officeUUID, levelUUID).Scan(&one)
			if err == nil {
				return ErrDuplicateRecord
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("failed to run duplicate check: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attendance_records (uuid, date, office_uuid, level_uuid,
					is_synced, operation_type, created_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
				recordUUID, date, officeUUID, levelUUID, string(models.OpInsert), fmtTime(now), fmtTime(now),
			); err != nil {
				return fmt.Errorf("failed to insert attendance record: %w", err)
			}
			if err := enqueueTx(ctx, tx, models.KindAttendanceRecord, models.OpInsert, recordUUID, models.AttendanceSnapshot{
				UUID: recordUUID, Date: date, OfficeUUID: officeUUID, LevelUUID: levelUUID,
				CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			res, err := tx.ExecContext(ctx, `
				UPDATE attendance_records
				SET date = ?, office_uuid = ?, level_uuid = ?, updated_at = ?, is_synced = 0, operation_type = ?
				WHERE uuid = ?`,
				date, officeUUID, levelUUID, fmtTime(now), string(models.OpUpdate), recordUUID,
			)
			if err != nil {
				return fmt.Errorf("failed to update attendance record: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM student_attendances WHERE attendance_record_uuid = ?`, recordUUID); err != nil {
				return fmt.Errorf("failed to clear previous statuses: %w", err)
			}
			current, err := getAttendanceTx(ctx, tx, recordUUID)
			if err != nil {
				return err
			}
			if err := enqueueTx(ctx, tx, models.KindAttendanceRecord, models.OpUpdate, recordUUID, models.AttendanceSnapshot{
				UUID: recordUUID, Date: date, OfficeUUID: officeUUID, LevelUUID: levelUUID,
				CreatedAt: current.CreatedAt, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}

		for _, st := range statuses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO student_attendances (attendance_record_uuid, student_uuid, status,
					is_synced, operation_type, created_at, updated_at)
				VALUES (?, ?, ?, 0, ?, ?, ?)`,
				recordUUID, st.StudentUUID, string(st.Status), string(models.OpInsert), fmtTime(now), fmtTime(now),
			); err != nil {
				return fmt.Errorf("failed to insert status for student %s: %w", st.StudentUUID, err)
			}
		}

		var err error
		rec, err = getAttendanceTx(ctx, tx, recordUUID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getAttendanceTx(ctx context.Context, tx *sql.Tx, recordUUID string) (*models.AttendanceRecord, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM attendance_records WHERE uuid = ?`, attendanceColumns), recordUUID)
	rec, err := scanAttendanceRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetAttendanceRecord returns one record by UUID, or (nil, nil) when absent
func (s *Store) GetAttendanceRecord(ctx context.Context, recordUUID string) (*models.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM attendance_records WHERE uuid = ?`, attendanceColumns), recordUUID)
	rec, err := scanAttendanceRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetAttendanceByKey looks a record up by its conceptual uniqueness key
func (s *Store) GetAttendanceByKey(ctx context.Context, date, officeUUID, levelUUID string) (*models.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM attendance_records
		WHERE date = ? AND office_uuid = ? AND level_uuid = ?`, attendanceColumns),
		date, officeUUID, levelUUID)
	rec, err := scanAttendanceRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListAttendanceRecords returns every record, newest date first
func (s *Store) ListAttendanceRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM attendance_records ORDER BY date DESC, id DESC`, attendanceColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendanceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// StudentAttendances returns the status rows belonging to one record
func (s *Store) StudentAttendances(ctx context.Context, recordUUID string) ([]models.StudentAttendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attendance_record_uuid, student_uuid, status, is_synced, operation_type, created_at, updated_at
		FROM student_attendances
		WHERE attendance_record_uuid = ?
		ORDER BY id ASC`, recordUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list student attendances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.StudentAttendance
	for rows.Next() {
		var (
			sa         models.StudentAttendance
			status     string
			opType     sql.NullString
			created    string
			updated    string
			syncedFlag int
		)
		if err := rows.Scan(&sa.LocalID, &sa.RecordUUID, &sa.StudentUUID, &status,
			&syncedFlag, &opType, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		sa.Status = models.AttendanceStatus(status)
		sa.Synced = syncedFlag == 1
		if opType.Valid {
			sa.PendingOp = models.Operation(opType.String)
		}
		sa.CreatedAt = parseTime(created)
		sa.UpdatedAt = parseTime(updated)
		out = append(out, sa)
	}
	return out, rows.Err()
}

// DeleteAttendanceRecord removes a sheet and its statuses locally and queues
// the deletion for the backend. Attendance rows are hard rows: no tombstone
// is kept once the push confirms
func (s *Store) DeleteAttendanceRecord(ctx context.Context, recordUUID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM student_attendances WHERE attendance_record_uuid = ?`, recordUUID); err != nil {
			return fmt.Errorf("failed to delete statuses: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE uuid = ?`, recordUUID)
		if err != nil {
			return fmt.Errorf("failed to delete attendance record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return enqueueTx(ctx, tx, models.KindAttendanceRecord, models.OpDelete, recordUUID, nil)
	})
}

// MarkAttendanceSynced clears the pending flags on a record and its statuses
// after a confirmed push
func (s *Store) MarkAttendanceSynced(ctx context.Context, recordUUID string, remoteID *int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE attendance_records SET is_synced = 1, operation_type = NULL`
		args := []any{}
		if remoteID != nil {
			query += `, remote_id = ?`
			args = append(args, *remoteID)
		}
		query += ` WHERE uuid = ?`
		args = append(args, recordUUID)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to mark attendance synced: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE student_attendances SET is_synced = 1, operation_type = NULL
			WHERE attendance_record_uuid = ?`, recordUUID); err != nil {
			return fmt.Errorf("failed to mark statuses synced: %w", err)
		}
		return nil
	})
}

// HardDeleteAttendanceLocal drops a sheet without queueing anything. Used
// when the backend already holds the definitive copy (uniqueness conflict)
// and when a pull observes a remote deletion
func (s *Store) HardDeleteAttendanceLocal(ctx context.Context, recordUUID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM student_attendances WHERE attendance_record_uuid = ?`, recordUUID); err != nil {
			return fmt.Errorf("failed to drop statuses: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM attendance_records WHERE uuid = ?`, recordUUID); err != nil {
			return fmt.Errorf("failed to drop attendance record: %w", err)
		}
		return nil
	})
}

// ListAttendanceAll returns every record for the pull fold
func (s *Store) ListAttendanceAll(ctx context.Context) ([]models.AttendanceRecord, error) {
	return s.ListAttendanceRecords(ctx)
}

// ApplyAttendancePull folds remote attendance state into the store in one
// transaction. Upserted sheets replace their status set wholesale; purged
// uuids were deleted remotely
func (s *Store) ApplyAttendancePull(ctx context.Context, upserts []models.AttendanceSheet, purge []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sheet := range upserts {
			rec := sheet.Record
			_, err := tx.ExecContext(ctx, `
				INSERT INTO attendance_records (uuid, date, office_uuid, level_uuid,
					remote_id, is_synced, operation_type, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 1, NULL, ?, ?)
				ON CONFLICT (uuid) DO UPDATE SET
					date = excluded.date,
					office_uuid = excluded.office_uuid,
					level_uuid = excluded.level_uuid,
					remote_id = excluded.remote_id,
					is_synced = 1,
					operation_type = NULL,
					updated_at = excluded.updated_at`,
				rec.UUID, rec.Date, rec.OfficeUUID, rec.LevelUUID, remoteIDArg(rec.RemoteID),
				fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to fold remote attendance %s: %w", rec.UUID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM student_attendances WHERE attendance_record_uuid = ?`, rec.UUID); err != nil {
				return fmt.Errorf("failed to replace statuses for %s: %w", rec.UUID, err)
			}
			for _, sa := range sheet.Statuses {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO student_attendances (attendance_record_uuid, student_uuid, status,
						is_synced, operation_type, created_at, updated_at)
					VALUES (?, ?, ?, 1, NULL, ?, ?)`,
					rec.UUID, sa.StudentUUID, string(sa.Status), fmtTime(sa.CreatedAt), fmtTime(sa.UpdatedAt),
				); err != nil {
					return fmt.Errorf("failed to fold status row for %s: %w", rec.UUID, err)
				}
			}
		}

		for _, u := range purge {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM student_attendances WHERE attendance_record_uuid = ?`, u); err != nil {
				return fmt.Errorf("failed to purge statuses for %s: %w", u, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM attendance_records WHERE uuid = ?`, u); err != nil {
				return fmt.Errorf("failed to purge attendance %s: %w", u, err)
			}
		}
		return nil
	})
}
