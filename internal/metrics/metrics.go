package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Escrow lifecycle counters.
	DepositsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_deposits_created_total",
		Help: "Total number of deposits created",
	})

	DepositsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_deposits_closed_total",
		Help: "Total number of deposits fully drained and removed",
	})

	IntentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_intents_created_total",
		Help: "Total number of intents created",
	})

	IntentsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_intents_settled_total",
			Help: "Total number of intents leaving the OPEN state",
		},
		[]string{"outcome"}, // fulfilled | expired | cancelled
	)

	// Verification metrics.
	ProofVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_proof_verifications_total",
			Help: "Total number of payment proof verifications",
		},
		[]string{"verifier", "result"},
	)

	ProofVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_proof_verify_duration_seconds",
		Help:    "Payment proof verification duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	NullifiersConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_nullifiers_consumed_total",
		Help: "Total number of nullifiers marked consumed",
	})

	ReplaysRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_replays_rejected_total",
		Help: "Total number of proof submissions rejected as replays",
	})

	// HTTP metrics.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Event publishing metrics.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"type", "transport"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_events_dropped_total",
			Help: "Total number of lifecycle events dropped",
		},
		[]string{"transport"},
	)

	// Database connection metrics.
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// NATS connection metrics.
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_websocket_clients",
		Help: "Number of connected WebSocket event subscribers",
	})
)
