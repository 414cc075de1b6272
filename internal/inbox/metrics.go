package inbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "inbox",
		Name:      "events_delivered_total",
		Help:      "Number of canonical events accepted by the downstream inbox.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "inbox",
		Name:      "events_failed_total",
		Help:      "Number of canonical events the inbox rejected or that failed in transit.",
	})

	suppressedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "inbox",
		Name:      "events_suppressed_total",
		Help:      "Number of events skipped because they predate the stored cursor.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, suppressedCounter)
}
