// Package metrics provides Prometheus metrics for fluxhook.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fluxhook"

var (
	// WebhookRequests counts inbound webhook requests by response status.
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Total number of inbound webhook requests",
		},
		[]string{"status"},
	)

	// UpstreamRequests counts Miniflux API calls.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of Miniflux API requests",
		},
		[]string{"kind", "outcome"},
	)

	// UpstreamDuration measures Miniflux API latency.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of Miniflux API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// CacheLookups counts metadata cache lookups.
	// result is one of: hit, miss, shared (joined an in-flight fetch).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of metadata cache lookups",
		},
		[]string{"cache", "result"},
	)

	// CacheEvictions counts entries dropped after a failed fetch.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted after a failed fetch",
		},
		[]string{"cache"},
	)

	// BatchesBuilt counts batches produced by the batcher.
	BatchesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_built_total",
			Help:      "Total number of notification batches built",
		},
		[]string{"status"},
	)

	// BatchSize observes records per batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Distribution of records per batch",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		},
	)

	// Deliveries counts outbound webhook sends by outcome.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of outbound webhook deliveries",
		},
		[]string{"status"},
	)

	// DeliveryDuration measures outbound send latency.
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of outbound webhook sends in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks batches waiting in the delivery queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Number of batches waiting for delivery",
		},
	)
)

// RecordUpstream records a Miniflux API call.
func RecordUpstream(kind, outcome string, duration float64) {
	UpstreamRequests.WithLabelValues(kind, outcome).Inc()
	UpstreamDuration.WithLabelValues(kind).Observe(duration)
}

// RecordDelivery records an outbound send.
func RecordDelivery(status string, duration float64) {
	Deliveries.WithLabelValues(status).Inc()
	DeliveryDuration.Observe(duration)
}

// RecordBatch records a built (or failed) batch.
func RecordBatch(status string, size int) {
	BatchesBuilt.WithLabelValues(status).Inc()
	if status == "ok" {
		BatchSize.Observe(float64(size))
	}
}
