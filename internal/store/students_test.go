package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Guizzs26/go-offline-sync/internal/models"

	"github.com/google/uuid"
)

func TestCreateStudent_MissingReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	office, _ := seedCatalog(t, s)

	_, err := s.CreateStudent(ctx, StudentInput{
		Name:       "Omar",
		OfficeUUID: office.UUID,
		LevelUUID:  uuid.NewString(),
	})
	if !errors.Is(err, ErrMissingReference) {
		t.Errorf("err = %v, want ErrMissingReference", err)
	}

	// Nothing half-written
	entries, _ := s.ListPending(ctx, models.KindStudent)
	if len(entries) != 0 {
		t.Errorf("queue length = %d, want 0", len(entries))
	}
	students, _ := s.ListStudents(ctx, "", "")
	if len(students) != 0 {
		t.Errorf("students = %d, want 0", len(students))
	}
}

func TestCreateStudent_SoftDeletedParentRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	office, level := seedCatalog(t, s)

	if err := s.SoftDeleteCatalogItem(ctx, models.KindOffice, office.UUID); err != nil {
		t.Fatalf("SoftDeleteCatalogItem() failed: %v", err)
	}

	_, err := s.CreateStudent(ctx, StudentInput{
		Name:       "Omar",
		OfficeUUID: office.UUID,
		LevelUUID:  level.UUID,
	})
	if !errors.Is(err, ErrMissingReference) {
		t.Errorf("err = %v, want ErrMissingReference for tombstoned office", err)
	}
}

func TestCreateStudent_QueuesInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	office, level := seedCatalog(t, s)

	phone := "0123456"
	st, err := s.CreateStudent(ctx, StudentInput{
		Name:       "Omar",
		Phone:      &phone,
		OfficeUUID: office.UUID,
		LevelUUID:  level.UUID,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}

	entries, _ := s.ListPending(ctx, models.KindStudent)
	if len(entries) != 1 {
		t.Fatalf("queue length = %d, want 1", len(entries))
	}
	snap, err := entries[0].DecodeSnapshot()
	if err != nil {
		t.Fatalf("DecodeSnapshot() failed: %v", err)
	}
	ss := snap.(models.StudentSnapshot)
	if ss.UUID != st.UUID || ss.Phone == nil || *ss.Phone != phone {
		t.Errorf("snapshot = %+v, want uuid %s with phone %s", ss, st.UUID, phone)
	}
}

func TestListStudents_FiltersByOfficeAndLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	office, level := seedCatalog(t, s)

	other, err := s.CreateCatalogItem(ctx, models.KindOffice, "South Office")
	if err != nil {
		t.Fatalf("CreateCatalogItem() failed: %v", err)
	}

	mk := func(name, officeUUID string) {
		t.Helper()
		if _, err := s.CreateStudent(ctx, StudentInput{Name: name, OfficeUUID: officeUUID, LevelUUID: level.UUID}); err != nil {
			t.Fatalf("CreateStudent(%s) failed: %v", name, err)
		}
	}
	mk("Aisha", office.UUID)
	mk("Bilal", office.UUID)
	mk("Yusuf", other.UUID)

	got, err := s.ListStudents(ctx, office.UUID, level.UUID)
	if err != nil {
		t.Fatalf("ListStudents() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered students = %d, want 2", len(got))
	}

	all, err := s.ListStudents(ctx, "", "")
	if err != nil {
		t.Fatalf("ListStudents(all) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all students = %d, want 3", len(all))
	}
}

func TestSoftDeleteStudent_Tombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	office, level := seedCatalog(t, s)

	st, err := s.CreateStudent(ctx, StudentInput{Name: "Omar", OfficeUUID: office.UUID, LevelUUID: level.UUID})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	drainQueue(t, s)

	if err := s.SoftDeleteStudent(ctx, st.UUID); err != nil {
		t.Fatalf("SoftDeleteStudent() failed: %v", err)
	}

	got, _ := s.GetStudent(ctx, st.UUID)
	if got == nil || got.DeletedAt == nil || got.PendingOp != models.OpDelete {
		t.Fatalf("row = %+v, want tombstoned with pending DELETE", got)
	}

	entries, _ := s.ListPending(ctx, models.KindStudent)
	if len(entries) != 1 || entries[0].Operation != models.OpDelete {
		t.Fatalf("queue = %+v, want one DELETE entry", entries)
	}
}
