package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for forgequeue.
// Using promauto for automatic registration with default registry.
var (
	// --- Store Metrics ---

	// StoreOpDuration tracks Store backend call latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgequeue",
			Subsystem: "store",
			Name:      "op_duration_seconds",
			Help:      "Duration of Store backend operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"op", "driver", "outcome"},
	)

	// QueueDepth tracks collection depth per namespace and collection.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgequeue",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs in a given collection (pending/scheduled/in_flight/done/failed/dead)",
		},
		[]string{"namespace", "collection"},
	)

	// --- Job lifecycle metrics ---

	// JobsPushed counts jobs handed to Push or Schedule.
	JobsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "jobs",
			Name:      "pushed_total",
			Help:      "Total number of jobs pushed or scheduled",
		},
		[]string{"namespace"},
	)

	// JobsAcked counts successful completions.
	JobsAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "jobs",
			Name:      "acked_total",
			Help:      "Total number of jobs acknowledged",
		},
		[]string{"namespace"},
	)

	// JobsRetried counts retry transitions (attempts incremented, not killed).
	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "jobs",
			Name:      "retried_total",
			Help:      "Total number of job retries",
		},
		[]string{"namespace"},
	)

	// JobsKilled counts terminal failures (retry budget exhausted or aborted).
	JobsKilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "jobs",
			Name:      "killed_total",
			Help:      "Total number of jobs killed",
		},
		[]string{"namespace", "reason"},
	)

	// HandlerDuration tracks handler execution duration per namespace
	// and outcome.
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forgequeue",
			Subsystem: "worker",
			Name:      "handler_duration_seconds",
			Help:      "Duration of job handler execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5min
		},
		[]string{"namespace", "outcome"},
	)

	// --- Worker pool metrics ---

	// WorkerInFlight tracks concurrent handler invocations per worker.
	WorkerInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgequeue",
			Subsystem: "worker",
			Name:      "in_flight",
			Help:      "Number of currently executing handler invocations",
		},
		[]string{"namespace", "worker_id"},
	)

	// HeartbeatsSent counts KeepAlive calls.
	HeartbeatsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
		[]string{"namespace", "worker_id"},
	)

	// --- Reaper metrics ---

	// OrphansReaped counts orphaned in-flight jobs reclaimed.
	OrphansReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "reaper",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned jobs reclaimed",
		},
		[]string{"namespace"},
	)

	// ScheduledPromoted counts scheduled jobs promoted to pending.
	ScheduledPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forgequeue",
			Subsystem: "reaper",
			Name:      "promoted_total",
			Help:      "Total number of scheduled jobs promoted to pending",
		},
		[]string{"namespace"},
	)

	// --- Circuit breaker metrics ---

	// CircuitBreakerState exports the numeric state (0=closed,1=open,2=half-open) of a named breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forgequeue",
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"name"},
	)
)

// RecordStoreOp records a Store backend call.
func RecordStoreOp(op, driver, outcome string, durationSeconds float64) {
	StoreOpDuration.WithLabelValues(op, driver, outcome).Observe(durationSeconds)
}

// RecordHandler records a completed handler invocation.
func RecordHandler(namespace, outcome string, durationSeconds float64) {
	HandlerDuration.WithLabelValues(namespace, outcome).Observe(durationSeconds)
}
