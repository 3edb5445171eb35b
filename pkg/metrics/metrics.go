package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts jobs admitted to the dispatch queue by priority.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remexa_notify_jobs_enqueued_total",
			Help: "Total number of notification jobs enqueued",
		},
		[]string{"priority"},
	)

	// JobsProcessed counts finished job executions by channel and result (delivered|failed|retried).
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remexa_notify_jobs_processed_total",
			Help: "Total number of notification job executions",
		},
		[]string{"channel", "result"},
	)

	// DeadLetteredJobs counts jobs moved to the dead-letter set after retry exhaustion.
	DeadLetteredJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remexa_notify_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead-letter set",
		},
	)

	// QueueDepth tracks jobs currently waiting per state (waiting|delayed|active).
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remexa_notify_queue_depth",
			Help: "Number of jobs per queue state",
		},
		[]string{"state"},
	)

	// DeliveryLatency measures end-to-end sender delivery latency per channel.
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remexa_notify_delivery_latency_seconds",
			Help:    "Channel sender delivery latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remexa_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
