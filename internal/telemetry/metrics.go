package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_submitted_total", Help: "Jobs accepted for generation"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_completed_total", Help: "Jobs that finished successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_failed_total", Help: "Jobs that terminated in failure"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_cancelled_total", Help: "Jobs cancelled by callers"})
	JobsResumed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_resumed_total", Help: "Cancelled jobs resumed within their window"})
	JobsTimedOut     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_timed_out_total", Help: "Running jobs failed by the timeout watchdog"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Submissions rejected by the tenant rate limiter"})
	ActiveJobsGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_active_jobs", Help: "Jobs currently running"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Submitted jobs waiting for the runner"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			JobsResumed,
			JobsTimedOut,
			RateLimitRejects,
			ActiveJobsGauge,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
