package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admissions records seat admission attempts by result (admitted|full|unknown_token|error).
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatkeeper_admissions_total",
			Help: "Total number of agency token admission attempts",
		},
		[]string{"result"},
	)

	// SeatReleases counts identities unbound from an agency token.
	SeatReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatkeeper_seat_releases_total",
			Help: "Total number of agency token seats released",
		},
	)

	// LifecycleOutcomes counts completed lifecycle flows by flow name and result code.
	LifecycleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatkeeper_lifecycle_outcomes_total",
			Help: "Outcomes of identity lifecycle flows",
		},
		[]string{"flow", "result"},
	)

	// RequestsExpired counts pending requests transitioned to EXPIRED, by kind.
	RequestsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatkeeper_requests_expired_total",
			Help: "Pending lifecycle requests observed past their validity window",
		},
		[]string{"kind"},
	)

	// RegistryLookups counts agency registry calls by operation and result (hit|miss|error).
	RegistryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatkeeper_registry_lookups_total",
			Help: "Agency registry lookups",
		},
		[]string{"operation", "result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatkeeper_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// AuthAttempts counts password sign-in attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatkeeper_auth_attempts_total",
			Help: "Password sign-in attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seatkeeper_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
