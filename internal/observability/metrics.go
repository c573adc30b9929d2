package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the number of pending like/unlike intents.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_queue_depth",
		Help: "Number of queued engagement operations awaiting delivery",
	})

	// QueueRetriesTotal counts retry attempts scheduled by the queue.
	QueueRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_queue_retries_total",
		Help: "Total number of queued operation retry attempts",
	})

	// QueueDrainedTotal counts operations that reached the store.
	QueueDrainedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_queue_drained_total",
		Help: "Total number of queued operations delivered successfully",
	})

	// QueueDroppedTotal counts operations abandoned after the retry ceiling.
	// The drop is invisible to the user, so this metric is the only signal.
	QueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_queue_dropped_total",
		Help: "Total number of queued operations dropped after max retries",
	})

	// StoreTransientErrors counts retryable document-store failures by operation.
	StoreTransientErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_store_transient_errors_total",
		Help: "Total number of transient document store errors by operation",
	}, []string{"operation"})

	// DebounceCoalescedTotal counts push updates absorbed by debouncing.
	DebounceCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_debounce_coalesced_total",
		Help: "Total number of subscription updates coalesced by the debounce window",
	})

	// WatchErrorsTotal counts per-target subscription failures.
	WatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_watch_errors_total",
		Help: "Total number of document watch failures by content type",
	}, []string{"content_type"})

	// RateLimitRejections counts actions rejected by the sliding window.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_rate_limit_rejections_total",
		Help: "Total number of actions rejected by the rate limiter",
	}, []string{"action"})

	// HTTPRequestsThrottled counts requests rejected by per-route ceilings,
	// as opposed to per-action engagement budget rejections above.
	HTTPRequestsThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_http_requests_throttled_total",
		Help: "Total number of HTTP requests rejected by per-route rate limits",
	}, []string{"resource"})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)
