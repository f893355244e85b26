// Package metrics exposes Prometheus collectors for the finance control plane
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketplace_finance"

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Webhook ingestion
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Provider webhook deliveries by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Order admission
	AdmissionDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "admission_denied_total",
			Help:      "Orders rejected by admission control",
		},
		[]string{"reason"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions",
		},
		[]string{"to"},
	)

	// Reconciliation
	ReconciliationMismatch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "mismatch_amount",
			Help:      "Mismatch computed by the last reconciliation pass",
		},
	)

	FinanceFrozen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "finance_frozen",
			Help:      "1 while platform money movement is frozen",
		},
	)

	SafeRecoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "safe_recovery_runs_total",
			Help:      "Safe-recovery passes by result",
		},
		[]string{"result"},
	)

	// Sellers
	SellerModeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sellers",
			Name:      "mode_changes_total",
			Help:      "Seller mode transitions",
		},
		[]string{"kind", "mode"},
	)

	SettlementCredits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "credits_total",
			Help:      "Ledger credits written by the settlement sweep",
		},
	)

	FinanceAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Finance alerts raised",
		},
		[]string{"type", "severity"},
	)

	// Jobs
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Job executions by type and result",
		},
		[]string{"task_type", "result"},
	)

	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dead_lettered_total",
			Help:      "Jobs that exhausted their retries",
		},
		[]string{"task_type"},
	)

	// Cache
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result",
		},
		[]string{"result"},
	)
)

// BoolGauge converts a flag to a gauge value
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
