// Package metrics provides Prometheus metrics for the SWAPI proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swapi_proxy"

var (
	// CacheLookups counts response cache lookups by outcome (hit, miss, shared).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// ProxyRequests counts completed proxy calls.
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Completed proxy requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// ProxyDuration measures end-to-end proxy latency.
	ProxyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_duration_seconds",
			Help:      "End-to-end proxy latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_enqueued_total",
		Help:      "Request events accepted by the ingestion queue",
	})

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Request events dropped before persistence",
		},
		[]string{"reason"},
	)

	EventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_persisted_total",
		Help:      "Request events written to the store",
	})

	EventsSpooled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_spooled_total",
		Help:      "Request events written to the local spool after store failures",
	})

	// SnapshotRecomputations counts aggregator runs by result.
	SnapshotRecomputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_recomputations_total",
			Help:      "Metric snapshot recomputations by result",
		},
		[]string{"result"},
	)
)

// RecordProxy records one completed proxy call.
func RecordProxy(endpoint, status string, seconds float64) {
	ProxyRequests.WithLabelValues(endpoint, status).Inc()
	ProxyDuration.WithLabelValues(endpoint).Observe(seconds)
}
