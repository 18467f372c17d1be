// Package metrics holds the Prometheus instruments used across the
// tenant core.  All collectors register with the global registry, so
// importing this package in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Circuit breaker lifecycle.  The "state" label is the state being
	// entered: open, half_open, or closed.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions, labelled by key and entered state.",
		}, []string{"key", "state"})

	BreakerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_rejected_total",
			Help: "Calls rejected fail-fast because the breaker was open.",
		}, []string{"key"})

	BreakerStillOpenAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_still_open_alerts_total",
			Help: "Sustained-open alerts: breaker remained open past the alert threshold.",
		}, []string{"key"})

	// Dedicated-connection cache.
	DedicatedConnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedicated_conns_active",
			Help: "Dedicated database handles currently cached.",
		})

	DedicatedConnsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedicated_conns_created_total",
			Help: "Cumulative dedicated database handles constructed.",
		})

	DedicatedConnsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedicated_conns_evicted_total",
			Help: "Cumulative dedicated handles evicted (idle, LRU, or explicit).",
		})

	// Preflight probes.
	PreflightSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "preflight_probe_seconds",
			Help:    "Latency of dedicated-database liveness probes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1 ms … ~4 s
		})

	// Fleet sweeps.
	FleetProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_tenants_processed_total",
			Help: "Tenants handled to completion by fleet sweeps.",
		})

	FleetFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_tenants_failed_total",
			Help: "Tenants whose handler exhausted its retries during a sweep.",
		})
)

func init() {
	prometheus.MustRegister(
		BreakerTransitionsTotal,
		BreakerRejectedTotal,
		BreakerStillOpenAlertsTotal,
		DedicatedConnsActive,
		DedicatedConnsCreatedTotal,
		DedicatedConnsEvictedTotal,
		PreflightSeconds,
		FleetProcessedTotal,
		FleetFailedTotal,
	)
}
