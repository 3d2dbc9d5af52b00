package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/broker"
	"github.com/Guizzs26/go-offline-sync/internal/config"
	"github.com/Guizzs26/go-offline-sync/internal/engine"
	"github.com/Guizzs26/go-offline-sync/internal/identity"
	"github.com/Guizzs26/go-offline-sync/internal/models"
	"github.com/Guizzs26/go-offline-sync/internal/observability"
	"github.com/Guizzs26/go-offline-sync/internal/remote"
	"github.com/Guizzs26/go-offline-sync/internal/store"
	"github.com/Guizzs26/go-offline-sync/pkg/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	flushSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, "syncd")
	if err != nil {
		slog.Warn("Sentry disabled", "error", err)
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.LocalDBPath, logger)
	if err != nil {
		slog.Error("Fatal error opening local store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("Fatal error migrating local store", "error", err)
		os.Exit(1)
	}

	remoteClient, err := remote.NewClient(cfg.RemoteDatabaseURL, logger)
	if err != nil {
		slog.Error("Fatal error configuring backend client", "error", err)
		os.Exit(1)
	}
	defer remoteClient.Close()

	gate := identity.NewGate(remoteClient, remoteClient, st, logger)
	signIn(ctx, gate, cfg)

	eng := engine.New(st, remoteClient, gate, logger)

	// Broker events are best effort: a full channel drops the oldest signal,
	// never blocks a cycle
	events := make(chan models.SyncEvent, 16)
	unsubscribe := eng.Subscribe(func(ev engine.Event) {
		if ev.Status == engine.StatusSyncing {
			return
		}
		event := models.SyncEvent{
			DeviceID:   cfg.DeviceID,
			Status:     string(ev.Status),
			Pending:    ev.Pending,
			DurationMS: ev.Duration.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}
		if ev.Err != nil {
			event.Error = ev.Err.Error()
			observability.CaptureErr(ev.Err)
		}
		select {
		case events <- event:
		default:
			<-events
			events <- event
		}
	})
	defer unsubscribe()

	brokerDone := make(chan struct{})
	if cfg.RabbitMQURL != "" {
		go runBroker(ctx, cfg.RabbitMQURL, events, brokerDone)
	} else {
		close(brokerDone)
		slog.Info("No broker configured, sync events stay local")
	}

	janitorDone := make(chan struct{})
	go runJanitor(ctx, st, cfg, janitorDone)

	go serveMetrics(ctx, cfg.HTTPAddr)

	slog.Info("🚀 Attendance sync daemon started",
		"pid", os.Getpid(), "device_id", cfg.DeviceID, "interval", cfg.SyncInterval.String())

	eng.AutoSync(ctx, cfg.SyncInterval)

	<-janitorDone
	<-brokerDone
	slog.Info("✅ Shutdown complete")
}

// signIn establishes the device session, falling back to the cached profile
// when the backend is unreachable. A device that has never signed in online
// cannot sync until the backend answers; cycles are skipped, not failed
func signIn(ctx context.Context, gate *identity.Gate, cfg *config.Config) {
	if cfg.DeviceEmail == "" {
		slog.Warn("No device credentials configured, sync will stay idle until sign-in")
		return
	}
	profile, err := gate.SignIn(ctx, cfg.DeviceEmail, cfg.DevicePassword)
	if err != nil {
		slog.Error("Device sign-in failed", "email", cfg.DeviceEmail, "error", err)
		return
	}
	slog.Info("Device session established", "email", profile.Email, "role", profile.Role)
}

// runBroker keeps the RabbitMQ link alive and drains the event channel into
// it. Link failures back off and reconnect; events arriving while the link
// is down are dropped
func runBroker(ctx context.Context, url string, events <-chan models.SyncEvent, done chan struct{}) {
	defer close(done)
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	var client *broker.RabbitMQClient

	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	for {
		if client == nil || !client.IsHealthy() {
			if client != nil {
				client.Close()
			}
			newClient, err := broker.NewRabbitMQClient(url, slog.Default())
			if err != nil {
				wait := backoff.Next()
				slog.Error("Broker link failure, retrying", "wait", wait, "error", err)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}
			client = newClient
			backoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := client.PublishSyncEvent(ctx, event); err != nil {
				slog.Warn("Failed to publish sync event", "status", event.Status, "error", err)
			}
		}
	}
}

// runJanitor purges change-queue entries past the retention window
func runJanitor(ctx context.Context, st *store.Store, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("🧹 Janitor: Checking for stale queue entries")
			if _, err := st.PurgeOlderThan(ctx, cfg.QueueRetention); err != nil {
				slog.Error("Janitor: Failed to purge stale entries", "error", err)
			}
		case <-ctx.Done():
			slog.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}
