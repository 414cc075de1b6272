package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "portal",
		Name:      "fetches_total",
		Help:      "Number of portal API fetches issued.",
	}, []string{"portal"})

	normalizedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "portal",
		Name:      "events_normalized_total",
		Help:      "Number of raw records normalized into canonical events.",
	}, []string{"portal"})

	normalizeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "portal",
		Name:      "normalize_errors_total",
		Help:      "Number of raw records dropped because normalization failed.",
	}, []string{"portal"})

	syncFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "portal",
		Name:      "credential_sync_failures_total",
		Help:      "Number of credential syncs that ended in an error.",
	}, []string{"portal"})
)

func init() {
	prometheus.MustRegister(
		fetchCounter,
		normalizedCounter,
		normalizeErrorCounter,
		syncFailureCounter,
	)
}
