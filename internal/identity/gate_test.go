package identity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
	"github.com/Guizzs26/go-offline-sync/internal/store"
)

type fakeProber struct{ err error }

func (p *fakeProber) Ping(context.Context) error { return p.err }

type fakeAuth struct {
	profile *models.Profile
	err     error
	calls   int
}

func (a *fakeAuth) Authenticate(_ context.Context, email, password string) (*models.Profile, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	p := *a.profile
	return &p, nil
}

type fakeCache struct {
	cached   map[string]string // email -> password
	profiles map[string]models.Profile
}

func newFakeCache() *fakeCache {
	return &fakeCache{cached: make(map[string]string), profiles: make(map[string]models.Profile)}
}

func (c *fakeCache) CacheProfile(_ context.Context, p models.Profile, password string) error {
	c.cached[p.Email] = password
	c.profiles[p.Email] = p
	return nil
}

func (c *fakeCache) VerifyOfflineCredentials(_ context.Context, email, password string) (*models.Profile, error) {
	if pw, ok := c.cached[email]; !ok || pw != password {
		return nil, store.ErrBadCredentials
	}
	p := c.profiles[email]
	return &p, nil
}

func staffProfile() *models.Profile {
	return &models.Profile{
		RemoteID: "5",
		Email:    "staff@school.example",
		Role:     models.RoleStaff,
	}
}

func TestSignIn_OnlineCachesProfile(t *testing.T) {
	cache := newFakeCache()
	g := NewGate(&fakeProber{}, &fakeAuth{profile: staffProfile()}, cache, slog.Default())

	p, err := g.SignIn(context.Background(), "staff@school.example", "s3cret")
	if err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	if !g.IsAuthenticated() {
		t.Error("gate should report an active session")
	}
	if cache.cached[p.Email] != "s3cret" {
		t.Error("online sign-in did not refresh the offline cache")
	}
}

func TestSignIn_OfflineFallsBackToCache(t *testing.T) {
	cache := newFakeCache()
	_ = cache.CacheProfile(context.Background(), *staffProfile(), "s3cret")

	auth := &fakeAuth{profile: staffProfile()}
	g := NewGate(&fakeProber{err: errors.New("no route to host")}, auth, cache, slog.Default())

	p, err := g.SignIn(context.Background(), "staff@school.example", "s3cret")
	if err != nil {
		t.Fatalf("offline SignIn() failed: %v", err)
	}
	if p.RemoteID != "5" {
		t.Errorf("profile = %+v, want cached staff profile", p)
	}
	if auth.calls != 0 {
		t.Errorf("backend authenticate called %d times while offline, want 0", auth.calls)
	}
}

func TestSignIn_OnlineRejectionDoesNotFallBack(t *testing.T) {
	cache := newFakeCache()
	_ = cache.CacheProfile(context.Background(), *staffProfile(), "old-pass")

	g := NewGate(&fakeProber{}, &fakeAuth{err: remote.ErrAuthFailed}, cache, slog.Default())

	// The backend is authoritative when reachable: a stale cached password
	// must not let a rejected sign-in through
	if _, err := g.SignIn(context.Background(), "staff@school.example", "old-pass"); !errors.Is(err, remote.ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
	if g.IsAuthenticated() {
		t.Error("rejected sign-in left an active session")
	}
}

func TestSignIn_BackendDropFallsBack(t *testing.T) {
	cache := newFakeCache()
	_ = cache.CacheProfile(context.Background(), *staffProfile(), "s3cret")

	// Probe succeeds but the authenticate call hits a dead backend
	g := NewGate(&fakeProber{}, &fakeAuth{err: remote.ErrUnavailable}, cache, slog.Default())

	if _, err := g.SignIn(context.Background(), "staff@school.example", "s3cret"); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	if !g.IsAuthenticated() {
		t.Error("cached fallback should establish a session")
	}
}

func TestSignOut_KeepsCache(t *testing.T) {
	cache := newFakeCache()
	g := NewGate(&fakeProber{}, &fakeAuth{profile: staffProfile()}, cache, slog.Default())

	if _, err := g.SignIn(context.Background(), "staff@school.example", "s3cret"); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	g.SignOut()

	if g.IsAuthenticated() {
		t.Error("session survived sign-out")
	}
	if _, err := g.Current(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Current() err = %v, want ErrNoSession", err)
	}
	if _, ok := cache.cached["staff@school.example"]; !ok {
		t.Error("sign-out wiped the offline cache")
	}
}
