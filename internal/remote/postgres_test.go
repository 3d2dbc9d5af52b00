//go:build testutil
// +build testutil

package remote

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/testutil/testdb"

	"github.com/google/uuid"
)

func startClient(t *testing.T) (*Client, *testdb.DBHandle) {
	t.Helper()
	ctx := context.Background()

	handle, err := testdb.Start(ctx)
	if err != nil {
		t.Fatalf("failed to start backend container: %v", err)
	}
	t.Cleanup(handle.Close)

	client, err := NewClient(handle.URI, slog.Default())
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(client.Close)

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
	return client, handle
}

func TestClient_InsertLookupUpdate(t *testing.T) {
	client, _ := startClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	officeUUID := uuid.NewString()
	id, err := client.Insert(ctx, "offices", Row{
		"uuid": officeUUID, "name": "Main Office", "created_at": now, "updated_at": now,
	})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Insert() returned zero id")
	}

	got, err := client.LookupID(ctx, "offices", officeUUID)
	if err != nil {
		t.Fatalf("LookupID() failed: %v", err)
	}
	if got != id {
		t.Errorf("LookupID() = %d, want %d", got, id)
	}

	if err := client.Update(ctx, "offices", "uuid", officeUUID, Row{
		"name": "Renamed Office", "updated_at": now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	rows, err := client.SelectAll(ctx, "offices", SelectOptions{})
	if err != nil {
		t.Fatalf("SelectAll() failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Renamed Office" {
		t.Errorf("rows = %v, want single renamed office", rows)
	}
}

func TestClient_UniqueViolationIsConflict(t *testing.T) {
	client, _ := startClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	officeUUID := uuid.NewString()
	row := Row{"uuid": officeUUID, "name": "Dup", "created_at": now, "updated_at": now}
	if _, err := client.Insert(ctx, "offices", row); err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	if _, err := client.Insert(ctx, "offices", row); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestClient_SoftDeleteSplitsSelects(t *testing.T) {
	client, _ := startClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	officeUUID := uuid.NewString()
	if _, err := client.Insert(ctx, "offices", Row{
		"uuid": officeUUID, "name": "Doomed", "created_at": now, "updated_at": now,
	}); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	if err := client.SoftDelete(ctx, "offices", officeUUID, now); err != nil {
		t.Fatalf("SoftDelete() failed: %v", err)
	}

	active, err := client.SelectAll(ctx, "offices", SelectOptions{})
	if err != nil {
		t.Fatalf("SelectAll(active) failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active rows = %d, want 0", len(active))
	}

	deleted, err := client.SelectAll(ctx, "offices", SelectOptions{OnlyDeleted: true})
	if err != nil {
		t.Fatalf("SelectAll(deleted) failed: %v", err)
	}
	if len(deleted) != 1 {
		t.Errorf("tombstoned rows = %d, want 1", len(deleted))
	}
}

func TestClient_SelectAllScopesByRemoteID(t *testing.T) {
	client, _ := startClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := client.Insert(ctx, "offices", Row{
		"uuid": uuid.NewString(), "name": "First", "created_at": now, "updated_at": now,
	})
	if err != nil {
		t.Fatalf("Insert(first) failed: %v", err)
	}
	if _, err := client.Insert(ctx, "offices", Row{
		"uuid": uuid.NewString(), "name": "Second", "created_at": now, "updated_at": now,
	}); err != nil {
		t.Fatalf("Insert(second) failed: %v", err)
	}

	rows, err := client.SelectAll(ctx, "offices", SelectOptions{RemoteIDs: []int64{first}})
	if err != nil {
		t.Fatalf("SelectAll() failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "First" {
		t.Errorf("rows = %v, want only the scoped office", rows)
	}
}

func TestClient_LookupMissingIsNotFound(t *testing.T) {
	client, _ := startClient(t)
	if _, err := client.LookupID(context.Background(), "offices", uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClient_RejectsUnknownTable(t *testing.T) {
	client, _ := startClient(t)
	if _, err := client.Insert(context.Background(), "grades", Row{"x": 1}); err == nil {
		t.Error("expected whitelist rejection for unknown table")
	}
}
