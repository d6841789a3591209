package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReportsSubmitted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_reports_submitted_total", Help: "Reports that produced a pending job"})
	ClassifierFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_classifier_failures_total", Help: "Reports rejected because the image could not be classified"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_rate_limit_rejects_total", Help: "Report submissions rejected by the rate limiter"})
	JobsAccepted       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dispatch_jobs_accepted_total", Help: "Jobs accepted by a worker"}, []string{"severity"})
	AcceptRejected     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_accept_rejected_total", Help: "Accept calls that failed a precondition"})
	JobsCompleted      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dispatch_jobs_completed_total", Help: "Jobs completed by their assignee"}, []string{"severity"})
	CompleteRejected   = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_complete_rejected_total", Help: "Complete calls that failed a precondition"})
	BonusPaid          = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_bonus_paid_units_total", Help: "Bonus currency units posted to worker ledgers"})
	AutoReleases       = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_auto_releases_total", Help: "Workers freed by an expired handling window"})
	ReleaseFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_release_failures_total", Help: "Deferred releases that failed and were rescheduled"})
	PendingReleases    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_pending_releases", Help: "Armed deferred releases"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsSubmitted,
			ClassifierFailures,
			RateLimitRejects,
			JobsAccepted,
			AcceptRejected,
			JobsCompleted,
			CompleteRejected,
			BonusPaid,
			AutoReleases,
			ReleaseFailures,
			PendingReleases,
		)
	})
	return promhttp.Handler()
}
