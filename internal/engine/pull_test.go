package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"

	"github.com/google/uuid"
)

func TestPull_BringsDownNewRows(t *testing.T) {
	e, st, fr, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	officeUUID := uuid.NewString()
	officeID := fr.addRow("offices", remote.Row{
		"uuid": officeUUID, "name": "Pulled Office", "created_at": now, "updated_at": now,
	})
	levelUUID := uuid.NewString()
	levelID := fr.addRow("levels", remote.Row{
		"uuid": levelUUID, "name": "Pulled Level", "created_at": now, "updated_at": now,
	})
	studentUUID := uuid.NewString()
	fr.addRow("students", remote.Row{
		"uuid": studentUUID, "name": "Pulled Student",
		"office_id": officeID, "level_id": levelID,
		"created_at": now, "updated_at": now,
	})

	applied, err := e.pull(ctx, models.QueueKinds)
	if err != nil {
		t.Fatalf("pull() failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}

	// Foreign keys arrive as backend ids and must come back as local uuids
	gotStudent, err := st.GetStudent(ctx, studentUUID)
	if err != nil {
		t.Fatalf("GetStudent() failed: %v", err)
	}
	if gotStudent == nil {
		t.Fatal("pulled student missing")
	}
	if gotStudent.OfficeUUID != officeUUID || gotStudent.LevelUUID != levelUUID {
		t.Errorf("student refs = (%s, %s), want (%s, %s)",
			gotStudent.OfficeUUID, gotStudent.LevelUUID, officeUUID, levelUUID)
	}
	if !gotStudent.Synced || gotStudent.PendingOp != models.OpNone {
		t.Errorf("pulled student flags = (synced=%v op=%q), want (true, none)", gotStudent.Synced, gotStudent.PendingOp)
	}

	// Pulled rows never enter the change queue
	if pending, _ := st.CountPending(ctx, ""); pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestPull_KindFailureDoesNotBlockOthers(t *testing.T) {
	e, st, fr, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	levelUUID := uuid.NewString()
	fr.addRow("levels", remote.Row{
		"uuid": levelUUID, "name": "Still Arrives", "created_at": now, "updated_at": now,
	})
	boom := errors.New("offices query failed")
	fr.selectErr["offices"] = boom

	applied, err := e.pull(ctx, models.QueueKinds)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the office failure reported", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (levels fold independently)", applied)
	}
	if got, _ := st.GetCatalogItem(ctx, models.KindLevel, levelUUID); got == nil {
		t.Error("level missing: one failed kind blocked the rest of the pull")
	}
}

func TestPull_LastWriteWins(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	office, err := st.CreateCatalogItem(ctx, models.KindOffice, "Local Name")
	if err != nil {
		t.Fatalf("CreateCatalogItem() failed: %v", err)
	}
	drainQueue(t, st)
	remoteID := int64(1)
	if err := st.MarkCatalogSynced(ctx, models.KindOffice, office.UUID, &remoteID); err != nil {
		t.Fatalf("MarkCatalogSynced() failed: %v", err)
	}

	t.Run("remote newer wins", func(t *testing.T) {
		fr := newFakeRemote()
		e.remote = fr
		fr.addRow("offices", remote.Row{
			"uuid": office.UUID, "name": "Remote Name",
			"created_at": office.CreatedAt, "updated_at": time.Now().UTC().Add(time.Hour),
		})
		if _, err := e.pull(ctx, models.QueueKinds); err != nil {
			t.Fatalf("pull() failed: %v", err)
		}
		got, _ := st.GetCatalogItem(ctx, models.KindOffice, office.UUID)
		if got.Name != "Remote Name" {
			t.Errorf("name = %q, want remote copy to win", got.Name)
		}
	})

	t.Run("remote older is ignored", func(t *testing.T) {
		fr := newFakeRemote()
		e.remote = fr
		fr.addRow("offices", remote.Row{
			"uuid": office.UUID, "name": "Stale Name",
			"created_at": office.CreatedAt, "updated_at": office.CreatedAt.Add(-time.Hour),
		})
		if _, err := e.pull(ctx, models.QueueKinds); err != nil {
			t.Fatalf("pull() failed: %v", err)
		}
		got, _ := st.GetCatalogItem(ctx, models.KindOffice, office.UUID)
		if got.Name == "Stale Name" {
			t.Error("stale remote copy clobbered newer local row")
		}
	})
}

func TestPull_NeverClobbersPendingRows(t *testing.T) {
	e, st, fr, _ := newTestEngine(t)
	ctx := context.Background()

	office, err := st.CreateCatalogItem(ctx, models.KindOffice, "Local Edit")
	if err != nil {
		t.Fatalf("CreateCatalogItem() failed: %v", err)
	}

	// Backend holds a newer copy, but the local row has a queued INSERT
	fr.addRow("offices", remote.Row{
		"uuid": office.UUID, "name": "Remote Copy",
		"created_at": time.Now().UTC(), "updated_at": time.Now().UTC().Add(time.Hour),
	})

	if _, err := e.pull(ctx, models.QueueKinds); err != nil {
		t.Fatalf("pull() failed: %v", err)
	}

	got, _ := st.GetCatalogItem(ctx, models.KindOffice, office.UUID)
	if got.Name != "Local Edit" {
		t.Errorf("name = %q, pending local row must not be clobbered", got.Name)
	}
	if got.PendingOp != models.OpInsert {
		t.Errorf("pending op = %q, want INSERT preserved", got.PendingOp)
	}
}

func TestPull_TombstonePurgesSyncedRow(t *testing.T) {
	e, st, fr, _ := newTestEngine(t)
	ctx := context.Background()

	office, err := st.CreateCatalogItem(ctx, models.KindOffice, "Doomed Office")
	if err != nil {
		t.Fatalf("CreateCatalogItem() failed: %v", err)
	}
	drainQueue(t, st)
	remoteID := int64(1)
	if err := st.MarkCatalogSynced(ctx, models.KindOffice, office.UUID, &remoteID); err != nil {
		t.Fatalf("MarkCatalogSynced() failed: %v", err)
	}

	fr.addRow("offices", remote.Row{
		"uuid": office.UUID, "name": "Doomed Office",
		"created_at": office.CreatedAt, "updated_at": time.Now().UTC(),
		"deleted_at": time.Now().UTC(),
	})

	if _, err := e.pull(ctx, models.QueueKinds); err != nil {
		t.Fatalf("pull() failed: %v", err)
	}
	if got, _ := st.GetCatalogItem(ctx, models.KindOffice, office.UUID); got != nil {
		t.Error("remotely tombstoned row still present locally")
	}
}

func TestPull_AttendanceAbsenceMeansDeletion(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, _, _, rec := seedLocalClass(t, st)

	// Round-trip everything first so the sheet is synced on both sides
	if _, err := e.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll() failed: %v", err)
	}

	// Another device deleted the sheet: the backend no longer has it
	fr := e.remote.(*fakeRemote)
	if err := fr.Delete(ctx, "attendance_records", rec.UUID); err != nil {
		t.Fatalf("backend delete failed: %v", err)
	}

	if _, err := e.pull(ctx, models.QueueKinds); err != nil {
		t.Fatalf("pull() failed: %v", err)
	}
	if got, _ := st.GetAttendanceRecord(ctx, rec.UUID); got != nil {
		t.Error("remotely deleted sheet still present locally")
	}
}

func TestPull_StaffScopeFiltersOffices(t *testing.T) {
	e, st, fr, gate := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	officeUUID := uuid.NewString()
	inScope := fr.addRow("offices", remote.Row{
		"uuid": officeUUID, "name": "In Scope", "created_at": now, "updated_at": now,
	})
	levelID := fr.addRow("levels", remote.Row{
		"uuid": uuid.NewString(), "name": "Level", "created_at": now, "updated_at": now,
	})
	outOfficeUUID := uuid.NewString()
	outOffice := fr.addRow("offices", remote.Row{
		"uuid": outOfficeUUID, "name": "Out of Scope", "created_at": now, "updated_at": now,
	})

	inUUID := uuid.NewString()
	fr.addRow("students", remote.Row{
		"uuid": inUUID, "name": "Visible",
		"office_id": inScope, "level_id": levelID,
		"created_at": now, "updated_at": now,
	})
	outUUID := uuid.NewString()
	fr.addRow("students", remote.Row{
		"uuid": outUUID, "name": "Hidden",
		"office_id": outOffice, "level_id": levelID,
		"created_at": now, "updated_at": now,
	})

	gate.profile = models.Profile{
		RemoteID: "2", Email: "staff@school.example",
		Role: models.RoleStaff, OfficeScope: []int64{inScope},
	}

	if _, err := e.pull(ctx, models.QueueKinds); err != nil {
		t.Fatalf("pull() failed: %v", err)
	}

	if got, _ := st.GetCatalogItem(ctx, models.KindOffice, officeUUID); got == nil {
		t.Error("in-scope office missing after pull")
	}
	if got, _ := st.GetCatalogItem(ctx, models.KindOffice, outOfficeUUID); got != nil {
		t.Error("out-of-scope office pulled despite staff scope")
	}
	if got, _ := st.GetStudent(ctx, inUUID); got == nil {
		t.Error("in-scope student missing after pull")
	}
	if got, _ := st.GetStudent(ctx, outUUID); got != nil {
		t.Error("out-of-scope student pulled despite staff scope")
	}
}
