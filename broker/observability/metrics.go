package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// QUEUE METRICS
// =============================================================================

var (
	queueConnectEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sylvia_broker_queue_connect_events_total",
			Help: "Total connection status transitions reported by a queue backend",
		},
		[]string{"backend", "status"}, // status: connected, disconnected, reconnecting
	)

	queueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sylvia_broker_queue_messages_total",
			Help: "Total messages sent or received over a queue",
		},
		[]string{"backend", "queue", "direction", "status"}, // direction: send, receive; status: ok, error
	)
)

// =============================================================================
// CACHE METRICS
// =============================================================================

var (
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sylvia_broker_cache_lookups_total",
			Help: "Total routing cache lookups",
		},
		[]string{"kind", "result"}, // kind: uldata, dldata, dldata_pub; result: hit, miss
	)
)

// =============================================================================
// DISPATCH METRICS
// =============================================================================

var (
	dispatchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sylvia_broker_dispatch_events_total",
			Help: "Total uplink/downlink dispatch outcomes",
		},
		[]string{"direction", "outcome"}, // direction: uldata, dldata, dldata_result; outcome: ok, malformed, store_error, dropped_no_unit_code, device_not_exist, network_not_running, send_failed, no_buffer
	)

	dispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sylvia_broker_dispatch_duration_seconds",
			Help:    "Dispatch handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"direction"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordQueueConnectEvent records a connection status transition for a queue
// backend ("amqp" or "mqtt").
func RecordQueueConnectEvent(backend, status string) {
	queueConnectEventsTotal.WithLabelValues(backend, status).Inc()
}

// RecordQueueMessage records a single send or receive on a named queue.
func RecordQueueMessage(backend, queue, direction, status string) {
	queueMessagesTotal.WithLabelValues(backend, queue, direction, status).Inc()
}

// RecordCacheLookup records a routing cache hit or miss.
func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordDispatch records a dispatch outcome and its handling duration.
func RecordDispatch(direction, outcome string, durationMS int) {
	dispatchEventsTotal.WithLabelValues(direction, outcome).Inc()
	dispatchDurationSeconds.WithLabelValues(direction).Observe(float64(durationMS) / 1000.0)
}
