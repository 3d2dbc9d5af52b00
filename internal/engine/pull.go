package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
	"github.com/Guizzs26/go-offline-sync/pkg/metrics"
)

// pull folds backend state into the local store, one kind at a time in
// parent-first order. Last write wins by updated_at, with one exception: a
// row carrying a pending local operation is never clobbered, because its
// change is still queued and will reach the backend on a later push.
// One kind failing to fold does not block the kinds behind it; the cycle
// reports the error after every kind has been attempted
func (e *Engine) pull(ctx context.Context, kinds []models.EntityKind) (int, error) {
	scope, err := e.pullScope()
	if err != nil {
		return 0, err
	}

	applied := 0
	var errs []error
	for _, kind := range models.QueueKinds {
		if !slices.Contains(kinds, kind) {
			continue
		}

		var n int
		var err error
		switch kind {
		case models.KindOffice:
			n, err = e.pullCatalog(ctx, kind, scope)
		case models.KindLevel:
			n, err = e.pullCatalog(ctx, kind, nil)
		case models.KindStudent:
			n, err = e.pullStudents(ctx, scope)
		case models.KindAttendanceRecord:
			n, err = e.pullAttendance(ctx, scope)
		}
		if err != nil {
			metrics.PullFailuresTotal.WithLabelValues(string(kind)).Inc()
			e.logger.Error("Failed to fold backend rows", "entity", kind, "error", err)
			errs = append(errs, fmt.Errorf("pull %s: %w", kind, err))
			continue
		}
		applied += n
		metrics.PullAppliedTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	return applied, errors.Join(errs...)
}

// pullScope returns the office ids a staff profile is limited to. Admins and
// unscoped staff pull everything
func (e *Engine) pullScope() ([]int64, error) {
	profile, err := e.gate.Current()
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleStaff && len(profile.OfficeScope) > 0 {
		return profile.OfficeScope, nil
	}
	return nil, nil
}

// pullCatalog folds one catalog kind. For offices the staff scope applies to
// the row's own backend id; levels always pass a nil scope and fold everything
func (e *Engine) pullCatalog(ctx context.Context, kind models.EntityKind, scope []int64) (int, error) {
	table := string(kind)

	active, err := e.remote.SelectAll(ctx, table, remote.SelectOptions{RemoteIDs: scope})
	if err != nil {
		return 0, err
	}
	tombstones, err := e.remote.SelectAll(ctx, table,
		remote.SelectOptions{OnlyDeleted: true, RemoteIDs: scope})
	if err != nil {
		return 0, err
	}

	locals, err := e.store.ListCatalogAll(ctx, kind)
	if err != nil {
		return 0, err
	}
	byUUID := make(map[string]models.CatalogItem, len(locals))
	for _, item := range locals {
		byUUID[item.UUID] = item
	}

	var upserts []models.CatalogItem
	for _, row := range active {
		item, err := decodeCatalogRow(row)
		if err != nil {
			e.logger.Warn("Skipping malformed backend row", "table", table, "error", err)
			continue
		}
		local, exists := byUUID[item.UUID]
		if !exists {
			upserts = append(upserts, item)
			continue
		}
		if local.PendingOp != models.OpNone {
			continue
		}
		if item.UpdatedAt.After(local.UpdatedAt) || local.RemoteID == nil {
			upserts = append(upserts, item)
		}
	}

	var purge []string
	for _, row := range tombstones {
		uuid := rowString(row, "uuid")
		local, exists := byUUID[uuid]
		if exists && local.PendingOp == models.OpNone {
			purge = append(purge, uuid)
		}
	}

	if len(upserts) == 0 && len(purge) == 0 {
		return 0, nil
	}
	if err := e.store.ApplyCatalogPull(ctx, kind, upserts, purge); err != nil {
		return 0, err
	}
	return len(upserts) + len(purge), nil
}

func decodeCatalogRow(row remote.Row) (models.CatalogItem, error) {
	remoteID, err := rowRemoteID(row)
	if err != nil {
		return models.CatalogItem{}, err
	}
	return models.CatalogItem{
		SyncMeta: models.SyncMeta{
			UUID:      rowString(row, "uuid"),
			RemoteID:  remoteID,
			Synced:    true,
			CreatedAt: rowTime(row, "created_at"),
			UpdatedAt: rowTime(row, "updated_at"),
		},
		Name:      rowString(row, "name"),
		DeletedAt: rowTimePtr(row, "deleted_at"),
	}, nil
}

// catalogRemoteIndex maps backend ids to local uuids for one catalog kind.
// Built after the catalog fold so freshly pulled parents resolve too
func (e *Engine) catalogRemoteIndex(ctx context.Context, kind models.EntityKind) (map[int64]string, map[string]int64, error) {
	items, err := e.store.ListCatalogAll(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]string, len(items))
	byUUID := make(map[string]int64, len(items))
	for _, item := range items {
		if item.RemoteID != nil {
			byID[*item.RemoteID] = item.UUID
			byUUID[item.UUID] = *item.RemoteID
		}
	}
	return byID, byUUID, nil
}

func (e *Engine) pullStudents(ctx context.Context, scope []int64) (int, error) {
	opts := remote.SelectOptions{OfficeRemoteIDs: scope}
	active, err := e.remote.SelectAll(ctx, "students", opts)
	if err != nil {
		return 0, err
	}
	tombstones, err := e.remote.SelectAll(ctx, "students",
		remote.SelectOptions{OnlyDeleted: true, OfficeRemoteIDs: scope})
	if err != nil {
		return 0, err
	}

	officeByID, _, err := e.catalogRemoteIndex(ctx, models.KindOffice)
	if err != nil {
		return 0, err
	}
	levelByID, _, err := e.catalogRemoteIndex(ctx, models.KindLevel)
	if err != nil {
		return 0, err
	}

	locals, err := e.store.ListStudentsAll(ctx)
	if err != nil {
		return 0, err
	}
	byUUID := make(map[string]models.Student, len(locals))
	for _, st := range locals {
		byUUID[st.UUID] = st
	}

	var upserts []models.Student
	for _, row := range active {
		st, ok := e.decodeStudentRow(row, officeByID, levelByID)
		if !ok {
			continue
		}
		local, exists := byUUID[st.UUID]
		if !exists {
			upserts = append(upserts, st)
			continue
		}
		if local.PendingOp != models.OpNone {
			continue
		}
		if st.UpdatedAt.After(local.UpdatedAt) || local.RemoteID == nil {
			upserts = append(upserts, st)
		}
	}

	var purge []string
	for _, row := range tombstones {
		uuid := rowString(row, "uuid")
		local, exists := byUUID[uuid]
		if exists && local.PendingOp == models.OpNone {
			purge = append(purge, uuid)
		}
	}

	if len(upserts) == 0 && len(purge) == 0 {
		return 0, nil
	}
	if err := e.store.ApplyStudentPull(ctx, upserts, purge); err != nil {
		return 0, err
	}
	return len(upserts) + len(purge), nil
}

// decodeStudentRow translates a backend student row into the local shape.
// Rows referencing an office or level this device has never seen are skipped
// until a later cycle has folded the parent catalogs
func (e *Engine) decodeStudentRow(row remote.Row, officeByID, levelByID map[int64]string) (models.Student, bool) {
	remoteID, err := rowRemoteID(row)
	if err != nil {
		e.logger.Warn("Skipping malformed backend student row", "error", err)
		return models.Student{}, false
	}

	officeID, ok := rowInt64(row, "office_id")
	if !ok {
		e.logger.Warn("Backend student row carries no office", "uuid", rowString(row, "uuid"))
		return models.Student{}, false
	}
	officeUUID, ok := officeByID[officeID]
	if !ok {
		e.logger.Debug("Deferring student with unknown office", "uuid", rowString(row, "uuid"), "office_id", officeID)
		return models.Student{}, false
	}
	levelID, ok := rowInt64(row, "level_id")
	if !ok {
		e.logger.Warn("Backend student row carries no level", "uuid", rowString(row, "uuid"))
		return models.Student{}, false
	}
	levelUUID, ok := levelByID[levelID]
	if !ok {
		e.logger.Debug("Deferring student with unknown level", "uuid", rowString(row, "uuid"), "level_id", levelID)
		return models.Student{}, false
	}

	return models.Student{
		SyncMeta: models.SyncMeta{
			UUID:      rowString(row, "uuid"),
			RemoteID:  remoteID,
			Synced:    true,
			CreatedAt: rowTime(row, "created_at"),
			UpdatedAt: rowTime(row, "updated_at"),
		},
		Name:       rowString(row, "name"),
		BirthDate:  rowStringPtr(row, "birth_date"),
		Phone:      rowStringPtr(row, "phone"),
		Address:    rowStringPtr(row, "address"),
		OfficeUUID: officeUUID,
		LevelUUID:  levelUUID,
		DeletedAt:  rowTimePtr(row, "deleted_at"),
	}, true
}

// pullAttendance folds attendance sheets. Attendance has no tombstones: a
// synced local sheet that is absent from the backend was deleted remotely
// and is purged, provided it falls inside the pull scope
func (e *Engine) pullAttendance(ctx context.Context, scope []int64) (int, error) {
	records, err := e.remote.SelectAll(ctx, "attendance_records",
		remote.SelectOptions{OfficeRemoteIDs: scope})
	if err != nil {
		return 0, err
	}
	statusRows, err := e.remote.SelectAll(ctx, "student_attendances", remote.SelectOptions{})
	if err != nil {
		return 0, err
	}

	officeByID, officeByUUID, err := e.catalogRemoteIndex(ctx, models.KindOffice)
	if err != nil {
		return 0, err
	}
	levelByID, _, err := e.catalogRemoteIndex(ctx, models.KindLevel)
	if err != nil {
		return 0, err
	}

	students, err := e.store.ListStudentsAll(ctx)
	if err != nil {
		return 0, err
	}
	studentByID := make(map[int64]string, len(students))
	for _, st := range students {
		if st.RemoteID != nil {
			studentByID[*st.RemoteID] = st.UUID
		}
	}

	statusesByRecord := make(map[int64][]remote.Row)
	for _, row := range statusRows {
		recordID, ok := rowInt64(row, "attendance_record_id")
		if !ok {
			continue
		}
		statusesByRecord[recordID] = append(statusesByRecord[recordID], row)
	}

	locals, err := e.store.ListAttendanceAll(ctx)
	if err != nil {
		return 0, err
	}
	byUUID := make(map[string]models.AttendanceRecord, len(locals))
	for _, rec := range locals {
		byUUID[rec.UUID] = rec
	}

	remoteSeen := make(map[string]bool, len(records))
	var upserts []models.AttendanceSheet
	for _, row := range records {
		sheet, ok := e.decodeAttendanceRow(row, officeByID, levelByID, studentByID, statusesByRecord)
		if !ok {
			continue
		}
		remoteSeen[sheet.Record.UUID] = true

		local, exists := byUUID[sheet.Record.UUID]
		if !exists {
			upserts = append(upserts, sheet)
			continue
		}
		if local.PendingOp != models.OpNone {
			continue
		}
		if sheet.Record.UpdatedAt.After(local.UpdatedAt) || local.RemoteID == nil {
			upserts = append(upserts, sheet)
		}
	}

	var purge []string
	for _, local := range locals {
		if remoteSeen[local.UUID] || local.PendingOp != models.OpNone || !local.Synced {
			continue
		}
		// Scoped pulls only see part of the backend; absence outside the
		// scope proves nothing
		if len(scope) > 0 {
			officeID, known := officeByUUID[local.OfficeUUID]
			if !known || !containsID(scope, officeID) {
				continue
			}
		}
		purge = append(purge, local.UUID)
	}

	if len(upserts) == 0 && len(purge) == 0 {
		return 0, nil
	}
	if err := e.store.ApplyAttendancePull(ctx, upserts, purge); err != nil {
		return 0, err
	}
	return len(upserts) + len(purge), nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (e *Engine) decodeAttendanceRow(row remote.Row, officeByID, levelByID, studentByID map[int64]string, statusesByRecord map[int64][]remote.Row) (models.AttendanceSheet, bool) {
	remoteID, err := rowRemoteID(row)
	if err != nil {
		e.logger.Warn("Skipping malformed backend attendance row", "error", err)
		return models.AttendanceSheet{}, false
	}

	officeID, _ := rowInt64(row, "office_id")
	officeUUID, okOffice := officeByID[officeID]
	levelID, _ := rowInt64(row, "level_id")
	levelUUID, okLevel := levelByID[levelID]
	if !okOffice || !okLevel {
		e.logger.Debug("Deferring attendance sheet with unknown office or level",
			"uuid", rowString(row, "uuid"))
		return models.AttendanceSheet{}, false
	}

	sheet := models.AttendanceSheet{
		Record: models.AttendanceRecord{
			SyncMeta: models.SyncMeta{
				UUID:      rowString(row, "uuid"),
				RemoteID:  remoteID,
				Synced:    true,
				CreatedAt: rowTime(row, "created_at"),
				UpdatedAt: rowTime(row, "updated_at"),
			},
			Date:       rowDate(row, "date"),
			OfficeUUID: officeUUID,
			LevelUUID:  levelUUID,
		},
	}

	for _, sr := range statusesByRecord[*remoteID] {
		studentID, ok := rowInt64(sr, "student_id")
		if !ok {
			continue
		}
		studentUUID, ok := studentByID[studentID]
		if !ok {
			e.logger.Debug("Dropping status row for unknown student",
				"record_uuid", sheet.Record.UUID, "student_id", studentID)
			continue
		}
		sheet.Statuses = append(sheet.Statuses, models.StudentAttendance{
			RecordUUID:  sheet.Record.UUID,
			StudentUUID: studentUUID,
			Status:      models.AttendanceStatus(rowString(sr, "status")),
			Synced:      true,
			CreatedAt:   rowTime(sr, "created_at"),
			UpdatedAt:   rowTime(sr, "updated_at"),
		})
	}
	return sheet, true
}
