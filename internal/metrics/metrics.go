package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Exchanges counts authorization-code exchanges by outcome.
	Exchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveadmin_code_exchanges_total",
			Help: "The total number of authorization code exchanges.",
		},
		[]string{"outcome"},
	)

	// Refreshes counts token refresh flights by outcome.
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveadmin_token_refreshes_total",
			Help: "The total number of token refresh operations.",
		},
		[]string{"outcome"},
	)

	// RefreshJoins counts callers that joined an in-flight refresh instead
	// of starting their own.
	RefreshJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driveadmin_refresh_joins_total",
			Help: "The total number of callers served by an already in-flight refresh.",
		},
	)

	// StoreConflicts counts compare-and-swap writes lost to a concurrent
	// writer.
	StoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driveadmin_credential_store_conflicts_total",
			Help: "The total number of credential writes that lost a version race.",
		},
	)

	// RefreshDuration is a histogram of refresh flight duration.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driveadmin_refresh_duration_seconds",
			Help:    "A histogram of token refresh duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// RefreshesInFlight is the number of refresh flights currently running.
	RefreshesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driveadmin_refreshes_in_flight",
			Help: "The number of token refreshes currently being executed.",
		},
	)
)
