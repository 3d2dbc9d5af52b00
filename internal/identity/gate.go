// Package identity decides who is signed in on this device and whether the
// backend is reachable. Both answers gate every sync cycle.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
)

// ErrNoSession is returned by Current when nobody is signed in
var ErrNoSession = errors.New("identity: no active session")

// Prober answers whether the backend is reachable right now
type Prober interface {
	Ping(ctx context.Context) error
}

// Authenticator verifies credentials against the backend
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.Profile, error)
}

// ProfileCache stores profiles for offline sign-in and verifies against them
type ProfileCache interface {
	CacheProfile(ctx context.Context, p models.Profile, password string) error
	VerifyOfflineCredentials(ctx context.Context, email, password string) (*models.Profile, error)
}

const probeTimeout = 3 * time.Second

// Gate tracks the device's session and connectivity state
type Gate struct {
	prober Prober
	auth   Authenticator
	cache  ProfileCache
	logger *slog.Logger

	mu      sync.RWMutex
	current *models.Profile
}

func NewGate(prober Prober, auth Authenticator, cache ProfileCache, logger *slog.Logger) *Gate {
	return &Gate{
		prober: prober,
		auth:   auth,
		cache:  cache,
		logger: logger.With("component", "identity"),
	}
}

// IsOnline probes the backend with a short timeout. A slow backend counts as
// offline: the cycle will run again soon anyway
func (g *Gate) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := g.prober.Ping(ctx); err != nil {
		g.logger.Debug("Backend probe failed", "error", err)
		return false
	}
	return true
}

func (g *Gate) IsAuthenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current != nil
}

// Current returns the signed-in profile
func (g *Gate) Current() (*models.Profile, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current == nil {
		return nil, ErrNoSession
	}
	p := *g.current
	return &p, nil
}

// SignIn authenticates against the backend when it is reachable and falls
// back to the local profile cache when it is not. A successful online sign-in
// refreshes the cache so the same credentials keep working offline
func (g *Gate) SignIn(ctx context.Context, email, password string) (*models.Profile, error) {
	if g.IsOnline(ctx) {
		p, err := g.signInOnline(ctx, email, password)
		if err == nil || !errors.Is(err, remote.ErrUnavailable) {
			return p, err
		}
		g.logger.Warn("Backend dropped mid sign-in, trying cached profile", "error", err)
	}
	return g.signInOffline(ctx, email, password)
}

func (g *Gate) signInOnline(ctx context.Context, email, password string) (*models.Profile, error) {
	p, err := g.auth.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := g.cache.CacheProfile(ctx, *p, password); err != nil {
		// The session is still valid; only the offline fallback is degraded
		g.logger.Warn("Failed to refresh profile cache", "error", err)
	}
	g.setCurrent(p)
	g.logger.Info("Signed in online", "email", p.Email, "role", p.Role)
	return p, nil
}

func (g *Gate) signInOffline(ctx context.Context, email, password string) (*models.Profile, error) {
	p, err := g.cache.VerifyOfflineCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	g.setCurrent(p)
	g.logger.Info("Signed in from cached profile", "email", p.Email, "role", p.Role)
	return p, nil
}

func (g *Gate) setCurrent(p *models.Profile) {
	g.mu.Lock()
	g.current = p
	g.mu.Unlock()
}

// SignOut drops the in-memory session. The cached profile stays so the user
// can sign back in offline
func (g *Gate) SignOut() {
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
}
