package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "indexab_"

const (
	OperationCreate = "create"
	OperationDelete = "delete"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var jobsSubmittedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_submitted_total",
		Help: "Number of optimisation jobs accepted",
	},
)

var jobsRejectedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_rejected_total",
		Help: "Number of submissions rejected by validation",
	},
	[]string{"kind"},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_finished_total",
		Help: "Number of optimisation jobs that reached a terminal status",
	},
	[]string{"status"},
)

var jobsInProgressGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "jobs_in_progress",
		Help: "Number of optimisation jobs currently running",
	},
)

var jobDurationHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "job_duration_seconds",
		Help:    "Time from submission until an optimisation job reached a terminal status",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	},
	[]string{"status"},
)

var environmentOperationsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "environment_operations_total",
		Help: "Number of environment creations and deletions",
	},
	[]string{"operation", "outcome"},
)

var indexApplicationsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "index_applications_total",
		Help: "Number of index candidates applied to an environment",
	},
	[]string{"outcome"},
)

var measurementFailuresCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "measurement_failures_total",
		Help: "Number of queries for which every measurement run failed",
	},
)

var jobStoreEvictionsCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobstore_evictions_total",
		Help: "Number of finished jobs evicted from the job store",
	},
)

func RecordJobSubmitted() {
	jobsSubmittedCounter.Inc()
	jobsInProgressGauge.Inc()
}

func RecordJobRejected(kind string) {
	jobsRejectedCounter.WithLabelValues(kind).Inc()
}

func RecordJobFinished(status string, duration time.Duration) {
	jobsInProgressGauge.Dec()
	jobsFinishedCounter.WithLabelValues(status).Inc()
	jobDurationHistogram.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordEnvironmentOperation(operation string, err error) {
	environmentOperationsCounter.WithLabelValues(operation, outcome(err)).Inc()
}

func RecordIndexApplication(err error) {
	indexApplicationsCounter.WithLabelValues(outcome(err)).Inc()
}

func RecordMeasurementFailure() {
	measurementFailuresCounter.Inc()
}

func RecordEvictions(n int) {
	jobStoreEvictionsCounter.Add(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
