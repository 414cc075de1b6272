package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Number of sync jobs written to the jobs topic, labeled by portal.",
	}, []string{"portal"})

	jobCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Number of sync jobs that ran to completion, labeled by portal.",
	}, []string{"portal"})

	jobFailedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Number of sync jobs whose handler reported an error, labeled by portal.",
	}, []string{"portal"})

	decodeErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "queue",
		Name:      "job_decode_errors_total",
		Help:      "Number of job messages that could not be decoded and were skipped.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, jobCompletedCounter, jobFailedCounter, decodeErrorCounter)
}
