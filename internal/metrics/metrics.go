// Package metrics exposes the scheduler stats and circuit-breaker state
// as Prometheus collectors, the hook point an external dashboard or
// alerting pipeline scrapes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PreCalcEligibleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_precalc_eligible_total",
			Help: "Total users found eligible by the daily pre-calc scheduler, by event type.",
		},
		[]string{"event_type"},
	)

	PreCalcScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_precalc_scheduled_total",
			Help: "Total DeliveryLog rows inserted by the daily pre-calc scheduler, by event type.",
		},
		[]string{"event_type"},
	)

	PreCalcDuplicatesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_precalc_duplicates_skipped_total",
			Help: "Total duplicate-idempotency-key inserts skipped by the daily pre-calc scheduler, by event type.",
		},
		[]string{"event_type"},
	)

	PreCalcErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_precalc_errors_total",
			Help: "Total per-user errors encountered by the daily pre-calc scheduler, by event type.",
		},
		[]string{"event_type"},
	)

	EnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_enqueued_total",
			Help: "Total DeliveryLog rows advanced from SCHEDULED to QUEUED and published.",
		},
	)

	RecoveryMissedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_recovery_missed_total",
			Help: "Total rows found stuck or missed by the recovery scheduler.",
		},
	)

	RecoveryRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_recovery_recovered_total",
			Help: "Total rows reset to SCHEDULED by the recovery scheduler.",
		},
	)

	RecoveryFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_recovery_failed_total",
			Help: "Total rows marked FAILED by the recovery scheduler.",
		},
	)

	RecoveryErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_recovery_errors_total",
			Help: "Total errors encountered by the recovery scheduler.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_deliveries_total",
			Help: "Total delivery attempts by event type and outcome (sent, retrying, failed, user-deleted).",
		},
		[]string{"event_type", "outcome"},
	)

	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daybreak_send_duration_seconds",
			Help:    "Time taken by a single send-client call, including in-client retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daybreak_circuit_breaker_state",
			Help: "Current circuit breaker state per event type (0=closed, 1=half-open, 2=open).",
		},
		[]string{"event_type"},
	)
)

func init() {
	prometheus.MustRegister(
		PreCalcEligibleTotal,
		PreCalcScheduledTotal,
		PreCalcDuplicatesSkippedTotal,
		PreCalcErrorsTotal,
		EnqueuedTotal,
		RecoveryMissedTotal,
		RecoveryRecoveredTotal,
		RecoveryFailedTotal,
		RecoveryErrorsTotal,
		DeliveriesTotal,
		SendDuration,
		CircuitBreakerState,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
