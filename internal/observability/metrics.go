package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	apiRequestsTotal     *prometheus.CounterVec
	apiLatencySeconds    *prometheus.HistogramVec
	apiErrorsTotal       *prometheus.CounterVec
	jobsEnqueuedTotal    *prometheus.CounterVec
	fallbackRunsTotal    *prometheus.CounterVec
	gradingRunsTotal     *prometheus.CounterVec
	gradingDuration      prometheus.Histogram
	workerJobsTotal      *prometheus.CounterVec
	workerJobsInFlight   prometheus.Gauge
	eventsPublishedTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		jobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_jobs_enqueued_total",
			Help: "Grading jobs handed to the queue.",
		}, []string{"result"})

		fallbackRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_fallback_runs_total",
			Help: "Submissions graded synchronously because the queue was unusable.",
		}, []string{"reason"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_runs_total",
			Help: "Grading runs by outcome.",
		}, []string{"outcome"})

		gradingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gema_grading_duration_seconds",
			Help:    "Duration of complete grading runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		})

		workerJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_worker_jobs_total",
			Help: "Jobs processed by the grading worker by outcome.",
		}, []string{"outcome"})

		workerJobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gema_worker_jobs_in_flight",
			Help: "Jobs currently being graded by this worker.",
		})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_events_published_total",
			Help: "Grading events published to brokers.",
		}, []string{"type"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			jobsEnqueuedTotal,
			fallbackRunsTotal,
			gradingRunsTotal,
			gradingDuration,
			workerJobsTotal,
			workerJobsInFlight,
			eventsPublishedTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// JobsEnqueued counts enqueue attempts by result.
func JobsEnqueued() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsEnqueuedTotal
}

// FallbackRuns counts synchronous grading runs by reason.
func FallbackRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return fallbackRunsTotal
}

// GradingRuns counts grading runs by outcome.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingDuration observes complete grading runs.
func GradingDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingDuration
}

// WorkerJobs counts worker job outcomes.
func WorkerJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return workerJobsTotal
}

// WorkerJobsInFlight tracks jobs currently held by the worker.
func WorkerJobsInFlight() prometheus.Gauge {
	RegisterMetrics()
	return workerJobsInFlight
}

// EventsPublished counts grading events by type.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}
