package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnforceRunsTotal tracks total enforce() invocations by outcome.
	EnforceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcerd_enforce_runs_total",
		Help: "Total number of zone enforce operations processed",
	}, []string{"result"})

	// EnforceDuration tracks enforce() wall-clock duration.
	EnforceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enforcerd_enforce_duration_seconds",
		Help:    "Histogram of zone enforce operation duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	// QueueDepth tracks the number of pending tasks in the scheduler's
	// priority queue, broken down by task kind.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enforcerd_scheduler_queue_depth",
		Help: "Number of tasks currently pending in the scheduler queue",
	}, []string{"kind"})

	// ActiveWorkers tracks the number of worker-pool goroutines currently
	// executing a task.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enforcerd_scheduler_active_workers",
		Help: "Number of scheduler worker goroutines currently busy",
	})

	// TaskBackoffTotal counts tasks re-queued after a transient failure.
	TaskBackoffTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcerd_task_backoff_total",
		Help: "Total number of tasks re-queued with backoff after a transient failure",
	}, []string{"kind"})

	// KeyShortageTotal counts key-factory shortage events raised per
	// (policy, role).
	KeyShortageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcerd_key_shortage_total",
		Help: "Total number of key-material shortage events raised by the key factory",
	}, []string{"policy", "role"})

	// DSPendingGauge tracks the number of keys currently awaiting an
	// operator DS submission or retraction action at the parent.
	DSPendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "enforcerd_ds_pending",
		Help: "Number of keys with a DS-at-parent action pending operator attention",
	}, []string{"zone", "action"})

	// DBConnectionsActive tracks open database connections.
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enforcerd_db_connections_active",
		Help: "Number of active database connections",
	})

	// SignconfWritesTotal counts sign-conf documents actually written
	// (content changed) versus skipped (unchanged).
	SignconfWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enforcerd_signconf_writes_total",
		Help: "Total number of signer-configuration document writes, by outcome",
	}, []string{"result"})
)
