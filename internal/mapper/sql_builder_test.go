package mapper

import (
	"testing"
)

func TestBuildInsert_DeterministicColumnOrder(t *testing.T) {
	b := NewSQLBuilder()

	query, args, err := b.BuildInsert("offices", map[string]any{
		"uuid": "abc",
		"name": "Main Office",
	})
	if err != nil {
		t.Fatalf("BuildInsert() failed: %v", err)
	}

	want := "INSERT INTO offices (name, uuid) VALUES ($1, $2) RETURNING id"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 2 || args[0] != "Main Office" || args[1] != "abc" {
		t.Errorf("args = %v, want [Main Office abc]", args)
	}
}

func TestBuildInsert_EmptyData(t *testing.T) {
	b := NewSQLBuilder()
	if _, _, err := b.BuildInsert("offices", map[string]any{}); err == nil {
		t.Error("expected error for empty row map")
	}
}

func TestBuildUpdate_SkipsKeyColumn(t *testing.T) {
	b := NewSQLBuilder()

	query, args, err := b.BuildUpdate("students", "uuid", "abc", map[string]any{
		"uuid": "abc",
		"name": "Renamed",
		"age":  7,
	})
	if err != nil {
		t.Fatalf("BuildUpdate() failed: %v", err)
	}

	want := "UPDATE students SET age = $1, name = $2 WHERE uuid = $3"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[2] != "abc" {
		t.Errorf("args = %v, want key value last", args)
	}
}

func TestBuildUpdate_OnlyKeyColumn(t *testing.T) {
	b := NewSQLBuilder()
	if _, _, err := b.BuildUpdate("students", "uuid", "abc", map[string]any{"uuid": "abc"}); err == nil {
		t.Error("expected error when no updatable columns remain")
	}
}

func TestBuildDelete(t *testing.T) {
	b := NewSQLBuilder()

	query, args, err := b.BuildDelete("attendance_records", "uuid", "abc")
	if err != nil {
		t.Fatalf("BuildDelete() failed: %v", err)
	}
	want := "DELETE FROM attendance_records WHERE uuid = $1"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 1 || args[0] != "abc" {
		t.Errorf("args = %v, want [abc]", args)
	}
}
