package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
)

func testProfile() models.Profile {
	return models.Profile{
		RemoteID:    "101",
		Email:       "teacher@school.example",
		Role:        models.RoleStaff,
		FullName:    "Test Teacher",
		OfficeScope: []int64{1, 3},
		LastLoginAt: time.Now().UTC(),
	}
}

func TestVerifyOfflineCredentials_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CacheProfile(ctx, testProfile(), "s3cret"); err != nil {
		t.Fatalf("CacheProfile() failed: %v", err)
	}

	got, err := s.VerifyOfflineCredentials(ctx, "Teacher@School.Example", "s3cret")
	if err != nil {
		t.Fatalf("VerifyOfflineCredentials() failed: %v", err)
	}
	if got.RemoteID != "101" || got.Role != models.RoleStaff {
		t.Errorf("profile = %+v, want remote id 101 with staff role", got)
	}
	if len(got.OfficeScope) != 2 || got.OfficeScope[0] != 1 {
		t.Errorf("office scope = %v, want [1 3]", got.OfficeScope)
	}
}

func TestVerifyOfflineCredentials_WrongPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CacheProfile(ctx, testProfile(), "s3cret"); err != nil {
		t.Fatalf("CacheProfile() failed: %v", err)
	}

	if _, err := s.VerifyOfflineCredentials(ctx, "teacher@school.example", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("err = %v, want ErrBadCredentials", err)
	}
}

func TestVerifyOfflineCredentials_UnknownEmail(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.VerifyOfflineCredentials(context.Background(), "nobody@school.example", "x"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("err = %v, want ErrBadCredentials", err)
	}
}

func TestCacheProfile_RefreshesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testProfile()
	if err := s.CacheProfile(ctx, p, "old-pass"); err != nil {
		t.Fatalf("CacheProfile() failed: %v", err)
	}

	p.Role = models.RoleAdmin
	if err := s.CacheProfile(ctx, p, "new-pass"); err != nil {
		t.Fatalf("second CacheProfile() failed: %v", err)
	}

	if _, err := s.VerifyOfflineCredentials(ctx, p.Email, "old-pass"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}
	got, err := s.VerifyOfflineCredentials(ctx, p.Email, "new-pass")
	if err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if got.Role != models.RoleAdmin {
		t.Errorf("role = %q, want admin after refresh", got.Role)
	}
}
