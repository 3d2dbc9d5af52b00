package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
	"github.com/Guizzs26/go-offline-sync/pkg/metrics"
)

// errDeferred marks an entry that cannot be pushed yet (its parent row has
// not reached the backend). The entry stays queued for the next cycle
var errDeferred = errors.New("engine: change deferred to next cycle")

// push drains the change queue in insertion order. Entries of kinds outside
// the requested set are skipped, not removed. A backend outage aborts the
// drain; any other per-entry failure is logged and the drain continues, so
// one poisoned entry cannot starve everything behind it
func (e *Engine) push(ctx context.Context, kinds []models.EntityKind) (int, error) {
	entries, err := e.store.ListPending(ctx, "")
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, entry := range entries {
		if !slices.Contains(kinds, entry.Kind) {
			continue
		}

		err := e.pushEntry(ctx, entry)
		switch {
		case err == nil:
			if err := e.store.RemoveChange(ctx, entry.ID); err != nil {
				return pushed, err
			}
			pushed++
			metrics.ChangesPushedTotal.WithLabelValues(string(entry.Kind), string(entry.Operation)).Inc()
		case errors.Is(err, errDeferred):
			e.logger.Debug("Deferred queued change",
				"entry_id", entry.ID, "entity", entry.Kind, "uuid", entry.EntityUUID)
		case errors.Is(err, remote.ErrUnavailable):
			e.logger.Warn("Backend dropped mid push, aborting drain",
				"entry_id", entry.ID, "pushed", pushed, "error", err)
			return pushed, err
		default:
			metrics.PushFailuresTotal.WithLabelValues(string(entry.Kind)).Inc()
			e.logger.Error("Failed to push queued change",
				"entry_id", entry.ID, "entity", entry.Kind,
				"operation", entry.Operation, "uuid", entry.EntityUUID, "error", err)
		}
	}
	return pushed, nil
}

func (e *Engine) pushEntry(ctx context.Context, entry models.ChangeEntry) error {
	switch entry.Kind {
	case models.KindOffice, models.KindLevel:
		return e.pushCatalog(ctx, entry)
	case models.KindStudent:
		return e.pushStudent(ctx, entry)
	case models.KindAttendanceRecord:
		return e.pushAttendance(ctx, entry)
	default:
		return fmt.Errorf("no push handler for entity kind %q", entry.Kind)
	}
}

func (e *Engine) pushCatalog(ctx context.Context, entry models.ChangeEntry) error {
	table := string(entry.Kind)

	snap, err := decodeCatalog(entry)
	if err != nil {
		return err
	}

	// The row may have been reconciled away after this entry was queued
	local, err := e.store.GetCatalogItem(ctx, entry.Kind, snap.UUID)
	if err != nil {
		return err
	}
	if local == nil {
		e.logger.Debug("Queued change references a row gone locally",
			"entity", entry.Kind, "uuid", snap.UUID)
		return nil
	}

	insert := func() error {
		id, err := e.remote.Insert(ctx, table, remote.Row{
			"uuid":       snap.UUID,
			"name":       snap.Name,
			"created_at": snap.CreatedAt.UTC(),
			"updated_at": snap.UpdatedAt.UTC(),
		})
		if errors.Is(err, remote.ErrConflict) {
			// The backend already holds this row (a retried push or another
			// device won the race). The pull will restore the winning copy
			e.logger.Warn("Insert conflicted with backend copy, dropping local row",
				"entity", entry.Kind, "uuid", snap.UUID)
			return e.store.HardDeleteCatalogItem(ctx, entry.Kind, snap.UUID)
		}
		if err != nil {
			return err
		}
		return e.store.MarkCatalogSynced(ctx, entry.Kind, snap.UUID, &id)
	}

	switch entry.Operation {
	case models.OpInsert:
		return insert()

	case models.OpUpdate:
		err := e.remote.Update(ctx, table, "uuid", snap.UUID, remote.Row{
			"name":       snap.Name,
			"updated_at": snap.UpdatedAt.UTC(),
		})
		if errors.Is(err, remote.ErrNotFound) {
			// The row never made it to the backend; send the full row instead
			return insert()
		}
		if err != nil {
			return err
		}
		return e.store.MarkCatalogSynced(ctx, entry.Kind, snap.UUID, nil)

	case models.OpDelete:
		deletedAt := time.Now().UTC()
		if snap.DeletedAt != nil {
			deletedAt = *snap.DeletedAt
		}
		err := e.remote.SoftDelete(ctx, table, snap.UUID, deletedAt)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return err
		}
		return e.store.MarkCatalogSynced(ctx, entry.Kind, snap.UUID, nil)

	default:
		return fmt.Errorf("unknown queued operation %q", entry.Operation)
	}
}

// resolveParent maps a local uuid reference to the backend id of its parent
// row. ErrNotFound becomes errDeferred: the parent is earlier in the queue
// and simply has not been pushed yet
func (e *Engine) resolveParent(ctx context.Context, table, entityUUID string) (int64, error) {
	id, err := e.remote.LookupID(ctx, table, entityUUID)
	if errors.Is(err, remote.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s %s not on backend", errDeferred, table, entityUUID)
	}
	return id, err
}

func (e *Engine) pushStudent(ctx context.Context, entry models.ChangeEntry) error {
	snap, err := decodeStudent(entry)
	if err != nil {
		return err
	}

	// The row may have been reconciled away after this entry was queued
	local, err := e.store.GetStudent(ctx, snap.UUID)
	if err != nil {
		return err
	}
	if local == nil {
		e.logger.Debug("Queued change references a student gone locally", "uuid", snap.UUID)
		return nil
	}

	buildRow := func() (remote.Row, error) {
		officeID, err := e.resolveParent(ctx, "offices", snap.OfficeUUID)
		if err != nil {
			return nil, err
		}
		levelID, err := e.resolveParent(ctx, "levels", snap.LevelUUID)
		if err != nil {
			return nil, err
		}
		return remote.Row{
			"uuid":       snap.UUID,
			"name":       snap.Name,
			"birth_date": snap.BirthDate,
			"phone":      snap.Phone,
			"address":    snap.Address,
			"office_id":  officeID,
			"level_id":   levelID,
			"updated_at": snap.UpdatedAt.UTC(),
		}, nil
	}

	insert := func() error {
		row, err := buildRow()
		if err != nil {
			return err
		}
		row["created_at"] = snap.CreatedAt.UTC()
		id, err := e.remote.Insert(ctx, "students", row)
		if errors.Is(err, remote.ErrConflict) {
			e.logger.Warn("Student insert conflicted with backend copy, dropping local row",
				"uuid", snap.UUID)
			return e.store.HardDeleteStudent(ctx, snap.UUID)
		}
		if err != nil {
			return err
		}
		return e.store.MarkStudentSynced(ctx, snap.UUID, &id)
	}

	switch entry.Operation {
	case models.OpInsert:
		return insert()

	case models.OpUpdate:
		row, err := buildRow()
		if err != nil {
			return err
		}
		err = e.remote.Update(ctx, "students", "uuid", snap.UUID, row)
		if errors.Is(err, remote.ErrNotFound) {
			// The row never made it to the backend; send the full row instead
			return insert()
		}
		if err != nil {
			return err
		}
		return e.store.MarkStudentSynced(ctx, snap.UUID, nil)

	case models.OpDelete:
		deletedAt := time.Now().UTC()
		if snap.DeletedAt != nil {
			deletedAt = *snap.DeletedAt
		}
		err := e.remote.SoftDelete(ctx, "students", snap.UUID, deletedAt)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return err
		}
		return e.store.MarkStudentSynced(ctx, snap.UUID, nil)

	default:
		return fmt.Errorf("unknown queued operation %q", entry.Operation)
	}
}

func (e *Engine) pushAttendance(ctx context.Context, entry models.ChangeEntry) error {
	switch entry.Operation {
	case models.OpInsert, models.OpUpdate:
		return e.pushAttendanceUpsert(ctx, entry)
	case models.OpDelete:
		recordID, err := e.remote.LookupID(ctx, "attendance_records", entry.EntityUUID)
		if errors.Is(err, remote.ErrNotFound) {
			// Never pushed; nothing to remove remotely
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.remote.DeleteWhereEq(ctx, "student_attendances", "attendance_record_id", recordID); err != nil {
			return err
		}
		return e.remote.Delete(ctx, "attendance_records", entry.EntityUUID)
	default:
		return fmt.Errorf("unknown queued operation %q", entry.Operation)
	}
}

// pushAttendanceUpsert sends a sheet header plus its full current status set.
// Updates always clear the backend's status rows and re-insert, mirroring the
// local save semantics
func (e *Engine) pushAttendanceUpsert(ctx context.Context, entry models.ChangeEntry) error {
	snap, err := decodeAttendance(entry)
	if err != nil {
		return err
	}

	// The sheet may have been deleted locally after this entry was queued
	rec, err := e.store.GetAttendanceRecord(ctx, entry.EntityUUID)
	if err != nil {
		return err
	}
	if rec == nil {
		e.logger.Debug("Queued attendance sheet no longer exists locally", "uuid", entry.EntityUUID)
		return nil
	}

	officeID, err := e.resolveParent(ctx, "offices", snap.OfficeUUID)
	if err != nil {
		return err
	}
	levelID, err := e.resolveParent(ctx, "levels", snap.LevelUUID)
	if err != nil {
		return err
	}

	var recordID int64
	if entry.Operation == models.OpInsert {
		recordID, err = e.remote.Insert(ctx, "attendance_records", remote.Row{
			"uuid":       snap.UUID,
			"date":       snap.Date,
			"office_id":  officeID,
			"level_id":   levelID,
			"created_at": snap.CreatedAt.UTC(),
			"updated_at": snap.UpdatedAt.UTC(),
		})
		if errors.Is(err, remote.ErrConflict) {
			// Another device already recorded this (date, office, level).
			// The backend copy wins; the pull brings it down
			e.logger.Warn("Attendance sheet conflicted with backend copy, dropping local sheet",
				"uuid", snap.UUID, "date", snap.Date)
			return e.store.HardDeleteAttendanceLocal(ctx, snap.UUID)
		}
		if err != nil {
			return err
		}
	} else {
		recordID, err = e.remote.LookupID(ctx, "attendance_records", snap.UUID)
		if errors.Is(err, remote.ErrNotFound) {
			// Promote to insert: queue order collapsed an earlier failure
			retry := entry
			retry.Operation = models.OpInsert
			return e.pushAttendanceUpsert(ctx, retry)
		}
		if err != nil {
			return err
		}
		if err := e.remote.Update(ctx, "attendance_records", "uuid", snap.UUID, remote.Row{
			"date":       snap.Date,
			"office_id":  officeID,
			"level_id":   levelID,
			"updated_at": snap.UpdatedAt.UTC(),
		}); err != nil {
			return err
		}
		if err := e.remote.DeleteWhereEq(ctx, "student_attendances", "attendance_record_id", recordID); err != nil {
			return err
		}
	}

	statuses, err := e.store.StudentAttendances(ctx, snap.UUID)
	if err != nil {
		return err
	}
	rows := make([]remote.Row, 0, len(statuses))
	for _, sa := range statuses {
		studentID, err := e.resolveParent(ctx, "students", sa.StudentUUID)
		if err != nil {
			return err
		}
		rows = append(rows, remote.Row{
			"attendance_record_id": recordID,
			"student_id":           studentID,
			"status":               string(sa.Status),
			"created_at":           sa.CreatedAt.UTC(),
			"updated_at":           sa.UpdatedAt.UTC(),
		})
	}
	if err := e.remote.InsertBatch(ctx, "student_attendances", rows); err != nil {
		return err
	}

	return e.store.MarkAttendanceSynced(ctx, snap.UUID, &recordID)
}

func decodeCatalog(entry models.ChangeEntry) (models.CatalogSnapshot, error) {
	s, err := entry.DecodeSnapshot()
	if err != nil {
		return models.CatalogSnapshot{}, err
	}
	snap, ok := s.(models.CatalogSnapshot)
	if !ok {
		return models.CatalogSnapshot{}, fmt.Errorf("entry %d carries no catalog snapshot", entry.ID)
	}
	return snap, nil
}

func decodeStudent(entry models.ChangeEntry) (models.StudentSnapshot, error) {
	s, err := entry.DecodeSnapshot()
	if err != nil {
		return models.StudentSnapshot{}, err
	}
	snap, ok := s.(models.StudentSnapshot)
	if !ok {
		return models.StudentSnapshot{}, fmt.Errorf("entry %d carries no student snapshot", entry.ID)
	}
	return snap, nil
}

func decodeAttendance(entry models.ChangeEntry) (models.AttendanceSnapshot, error) {
	s, err := entry.DecodeSnapshot()
	if err != nil {
		return models.AttendanceSnapshot{}, err
	}
	snap, ok := s.(models.AttendanceSnapshot)
	if !ok {
		return models.AttendanceSnapshot{}, fmt.Errorf("entry %d carries no attendance snapshot", entry.ID)
	}
	return snap, nil
}
