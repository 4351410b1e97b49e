// Package metrics provides Prometheus metrics for the tetraDX service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal tracks completed fetches by entity and outcome
	// (success, timeout, failure, invalid, exhausted)
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tetradx",
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Total number of completed fetches by entity and outcome",
		},
		[]string{"entity", "outcome"},
	)

	// FetchDuration tracks fetch duration in seconds
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tetradx",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of fetches in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"entity"},
	)

	// FetchRoundTrips tracks database round trips per fetch; stays at
	// 1 + relations requested regardless of row count
	FetchRoundTrips = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tetradx",
			Subsystem: "fetch",
			Name:      "round_trips",
			Help:      "Database round trips issued per fetch",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21},
		},
		[]string{"entity"},
	)

	// PoolBorrowed tracks connections currently checked out of the pool
	PoolBorrowed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tetradx",
			Subsystem: "pool",
			Name:      "borrowed_connections",
			Help:      "Connections currently borrowed from the pool",
		},
	)

	// PoolIdle tracks idle connections in the pool
	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tetradx",
			Subsystem: "pool",
			Name:      "idle_connections",
			Help:      "Idle connections held by the pool",
		},
	)

	// ReferralsCreated tracks referrals created
	ReferralsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tetradx",
			Subsystem: "referrals",
			Name:      "created_total",
			Help:      "Total number of referrals created",
		},
	)

	// ReferralStatusUpdates tracks referral status transitions
	ReferralStatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tetradx",
			Subsystem: "referrals",
			Name:      "status_updates_total",
			Help:      "Total number of referral status updates by new status",
		},
		[]string{"status"},
	)
)
