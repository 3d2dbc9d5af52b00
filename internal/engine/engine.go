// Package engine runs the synchronization cycle: drain the local change
// queue to the backend (push), then fold the backend state into the local
// store (pull). A cycle runs only when a user is signed in and the backend
// answers a probe; at most one cycle runs at a time.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
	"github.com/Guizzs26/go-offline-sync/internal/store"
	"github.com/Guizzs26/go-offline-sync/pkg/infra"
	"github.com/Guizzs26/go-offline-sync/pkg/metrics"
)

var (
	// ErrSyncRunning means a cycle is already in flight; the caller's request
	// is dropped, not queued
	ErrSyncRunning = errors.New("engine: sync cycle already running")

	// ErrOffline means the backend did not answer the connectivity probe
	ErrOffline = errors.New("engine: backend unreachable")

	// ErrNotAuthenticated means no user is signed in on this device
	ErrNotAuthenticated = errors.New("engine: no authenticated session")
)

// RemoteService is the backend surface the engine pushes to and pulls from
type RemoteService interface {
	Insert(ctx context.Context, table string, row remote.Row) (int64, error)
	InsertBatch(ctx context.Context, table string, rows []remote.Row) error
	Update(ctx context.Context, table, keyColumn string, keyValue any, row remote.Row) error
	SoftDelete(ctx context.Context, table, entityUUID string, deletedAt time.Time) error
	Delete(ctx context.Context, table, entityUUID string) error
	DeleteWhereEq(ctx context.Context, table, column string, value any) error
	LookupID(ctx context.Context, table, entityUUID string) (int64, error)
	SelectAll(ctx context.Context, table string, opts remote.SelectOptions) ([]remote.Row, error)
}

// IdentityGate answers the two preconditions of every cycle
type IdentityGate interface {
	IsOnline(ctx context.Context) bool
	IsAuthenticated() bool
	Current() (*models.Profile, error)
}

// Status is the lifecycle phase reported to listeners
type Status string

const (
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Event is one status notification. Pending is the queue backlog after the
// cycle (zero on a clean completion)
type Event struct {
	Status   Status
	Pending  int
	Duration time.Duration
	Err      error
}

// Summary reports what a completed cycle did
type Summary struct {
	Pushed   int
	Applied  int
	Duration time.Duration
}

type Engine struct {
	store  *store.Store
	remote RemoteService
	gate   IdentityGate
	logger *slog.Logger

	running atomic.Bool

	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

func New(st *store.Store, rs RemoteService, gate IdentityGate, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		remote:    rs,
		gate:      gate,
		logger:    logger.With("component", "engine"),
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers a listener for cycle status events. Listeners run
// synchronously on the syncing goroutine in registration order, so they must
// return quickly. The returned function unsubscribes
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) notify(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SyncAll runs one full cycle over every entity kind
func (e *Engine) SyncAll(ctx context.Context) (*Summary, error) {
	return e.sync(ctx, models.QueueKinds)
}

// SyncEntity runs one cycle scoped to a single entity kind. The push still
// drains the whole queue head-first up to entries of other kinds
func (e *Engine) SyncEntity(ctx context.Context, kind models.EntityKind) (*Summary, error) {
	if !kind.Valid() || !models.KindRegistry[kind].Queued {
		return nil, errors.New("engine: unknown entity kind " + string(kind))
	}
	return e.sync(ctx, []models.EntityKind{kind})
}

func (e *Engine) sync(ctx context.Context, kinds []models.EntityKind) (*Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncRunning
	}
	defer e.running.Store(false)

	if !e.gate.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	if !e.gate.IsOnline(ctx) {
		return nil, ErrOffline
	}

	start := time.Now()
	e.notify(Event{Status: StatusSyncing})
	metrics.SyncCyclesTotal.WithLabelValues("started").Inc()

	summary, err := e.runCycle(ctx, kinds)
	elapsed := time.Since(start)
	metrics.SyncCycleDuration.Observe(elapsed.Seconds())

	pending, countErr := e.store.CountPending(ctx, "")
	if countErr != nil {
		e.logger.Warn("Failed to count backlog after cycle", "error", countErr)
	}
	metrics.QueueBacklog.Set(float64(pending))

	if err != nil {
		metrics.SyncCyclesTotal.WithLabelValues("error").Inc()
		e.logger.Error("Sync cycle failed", "error", err, "duration", elapsed.String(), "pending", pending)
		e.notify(Event{Status: StatusError, Pending: pending, Duration: elapsed, Err: err})
		return nil, err
	}

	summary.Duration = elapsed
	metrics.SyncCyclesTotal.WithLabelValues("completed").Inc()
	e.logger.Info("Sync cycle completed",
		"pushed", summary.Pushed, "applied", summary.Applied,
		"duration", elapsed.String(), "pending", pending)
	e.notify(Event{Status: StatusCompleted, Pending: pending, Duration: elapsed})
	return summary, nil
}

func (e *Engine) runCycle(ctx context.Context, kinds []models.EntityKind) (*Summary, error) {
	pushed, err := e.push(ctx, kinds)
	if err != nil {
		return nil, err
	}
	applied, err := e.pull(ctx, kinds)
	if err != nil {
		return nil, err
	}
	return &Summary{Pushed: pushed, Applied: applied}, nil
}

// AutoSync runs cycles on a fixed interval until the context ends. Skipped
// cycles (offline, signed out, already running) are quiet: they are the
// normal state of an offline-first device
func (e *Engine) AutoSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(infra.Jitter(interval, 0.1))
	defer ticker.Stop()

	e.logger.Info("Automatic sync started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Automatic sync stopped")
			return
		case <-ticker.C:
			ticker.Reset(infra.Jitter(interval, 0.1))
			if _, err := e.SyncAll(ctx); err != nil {
				switch {
				case errors.Is(err, ErrOffline), errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrSyncRunning):
					e.logger.Debug("Skipped automatic cycle", "reason", err)
				default:
					// Already logged with full context by sync
				}
			}
		}
	}
}
