package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the broker",
		},
		[]string{"topic", "type"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Total number of publishes that exhausted retries",
		},
		[]string{"topic"},
	)

	EventPublishRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_retries_total",
			Help: "Total number of publish retry attempts",
		},
		[]string{"topic"},
	)

	FallbackQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_fallback_queue_depth",
			Help: "Number of events waiting in the publish fallback queue",
		},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Total number of events handled by consumers",
		},
		[]string{"consumer", "status"}, // status: success, skipped, completed, deferred, error, ignored
	)

	ConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_consume_latency_ms",
			Help:    "Event handling latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"consumer", "topic"},
	)

	RecurringInstancesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recurring_instances_created_total",
			Help: "Total number of recurring task instances created",
		},
	)

	RemindersPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_published_total",
			Help: "Total number of reminder events published",
		},
		[]string{"trigger"}, // trigger: scan, direct
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Total number of notification deliveries by channel",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	NotificationsDeferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_deferred_total",
			Help: "Total number of notifications deferred to quiet-hours buffer",
		},
	)

	BackendCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_latency_ms",
			Help:    "Task backend API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"endpoint", "status"},
	)

	LedgerRowsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_rows_purged_total",
			Help: "Total number of processed-event rows removed by cleanup",
		},
	)
)

func RecordConsumeLatency(consumer, topic string, duration time.Duration) {
	ConsumeLatency.WithLabelValues(consumer, topic).Observe(float64(duration.Milliseconds()))
}

func RecordBackendCallLatency(endpoint, status string, duration time.Duration) {
	BackendCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}
