package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts engine submissions by side and match result.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickex_engine_orders_processed_total",
		Help: "Total number of orders processed by the matching engine",
	},
	[]string{"side", "result"},
)

// OrdersCancelled counts engine cancel requests by result.
var OrdersCancelled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickex_engine_orders_cancelled_total",
		Help: "Total number of cancel requests handled by the matching engine",
	},
	[]string{"result"},
)

// OrderLatency records latency distribution for engine order processing
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tickex_engine_order_latency_seconds",
		Help:    "Latency in seconds to process individual orders in the engine",
		Buckets: prometheus.DefBuckets,
	},
)

// FilledQuantity counts executed units per instrument.
var FilledQuantity = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickex_engine_filled_quantity_total",
		Help: "Total quantity executed by the matching engine",
	},
	[]string{"instrument"},
)

// Settlement metrics
var (
	SagaOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickex_settlement_saga_outcomes_total",
			Help: "Settlement saga transitions by resulting state",
		},
		[]string{"state"},
	)

	EngineCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickex_settlement_engine_call_seconds",
			Help:    "Latency of gateway calls to the matching engine",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CancelOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickex_settlement_cancels_total",
			Help: "Gateway cancel requests by outcome",
		},
		[]string{"result"},
	)

	SubmissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickex_settlement_rejections_total",
			Help: "Order submissions rejected by the gateway, by error code",
		},
		[]string{"code"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickex_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickex_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersCancelled, OrderLatency, FilledQuantity)
	prometheus.MustRegister(SagaOutcomes, EngineCallLatency, CancelOutcomes, SubmissionsRejected)
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
}
