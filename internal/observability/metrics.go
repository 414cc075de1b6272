// Package observability carries cross-cutting watermark gauges shared by the
// inbox and the workers.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	notificationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "inbox",
		Name:      "last_notification_timestamp_seconds",
		Help:      "Unix timestamp of the most recent notification accepted by the inbox.",
	})
	syncGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "portal",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sync per portal.",
	}, []string{"portal"})
)

func init() {
	prometheus.MustRegister(notificationGauge, syncGauge)
}

// RecordNotificationAccepted updates the inbox watermark gauge.
func RecordNotificationAccepted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	notificationGauge.Set(float64(ts.Unix()))
}

// RecordSyncCompleted updates the per-portal sync watermark gauge.
func RecordSyncCompleted(portal string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	syncGauge.WithLabelValues(portal).Set(float64(ts.Unix()))
}
