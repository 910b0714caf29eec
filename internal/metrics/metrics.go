// Package metrics exposes the process-wide Prometheus collectors. Counters
// are incremented only after the underlying state change has committed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CreditsCharged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitesmith_credits_charged_total",
		Help: "Sum of credits charged across all users.",
	})

	CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitesmith_credits_granted_total",
		Help: "Sum of credits granted, refunded, or purchased across all users.",
	})

	CreditTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesmith_credit_transactions_total",
		Help: "Credit ledger transactions by kind.",
	}, []string{"kind"})

	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesmith_iterations_total",
		Help: "Prompt iterations by outcome.",
	}, []string{"outcome"})

	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesmith_builds_total",
		Help: "Container builds by final status.",
	}, []string{"status"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitesmith_build_duration_seconds",
		Help:    "Wall-clock duration of container builds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
	})

	RepairAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesmith_repair_attempts_total",
		Help: "Automated repair attempts by error category.",
	}, []string{"category"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesmith_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by endpoint.",
	}, []string{"endpoint"})
)
