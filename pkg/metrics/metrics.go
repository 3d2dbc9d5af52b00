package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCyclesTotal tracks cycle outcomes
	// Labels allow filtering by status (started/completed/error)
	SyncCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_cycles_total",
		Help: "Total number of sync cycles by outcome",
	}, []string{"status"})

	// ChangesPushedTotal tracks confirmed pushes by entity and operation
	ChangesPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_changes_pushed_total",
		Help: "Total number of queued changes confirmed by the backend",
	}, []string{"entity", "operation"})

	// PushFailuresTotal counts per-entry push failures that did not abort the
	// drain. Growth here means poisoned entries need manual inspection
	PushFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_push_failures_total",
		Help: "Total number of queued changes that failed to push",
	}, []string{"entity"})

	// PullFailuresTotal counts per-entity pull failures. The cycle keeps
	// folding the remaining entities, so this can grow without the backlog
	// moving
	PullFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_pull_failures_total",
		Help: "Total number of per-entity pull folds that failed",
	}, []string{"entity"})

	// PullAppliedTotal tracks rows folded into the local store per entity
	PullAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_pull_applied_total",
		Help: "Total number of backend rows applied locally during pulls",
	}, []string{"entity"})

	// QueueBacklog is the number of pending entries in the change queue
	// This is the primary indicator of how far behind the device is
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncd_queue_backlog",
		Help: "Current number of pending entries in the change queue",
	})

	// SyncCycleDuration measures how long a full push+pull cycle takes
	SyncCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncd_cycle_duration_seconds",
		Help:    "Duration of full sync cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BrokerHealth provides a binary 0/1 signal for the event broker link
	// 1 = Healthy, 0 = Unhealthy (connection to RabbitMQ is down)
	BrokerHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncd_broker_healthy",
		Help: "Current health of the event broker link (1 for healthy, 0 for unhealthy)",
	})
)
