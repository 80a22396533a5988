package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconciler_jobs_created_total", Help: "Jobs created by kind"}, []string{"kind"})
	JobsSent         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconciler_jobs_sent_total", Help: "Jobs accepted by the gateway"}, []string{"kind"})
	JobsFailedCheck  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconciler_jobs_failed_check_total", Help: "Jobs rejected by the gateway"}, []string{"kind"})
	JobsSendErrors   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconciler_jobs_send_errors_total", Help: "Send attempts rolled back on infrastructure failure"}, []string{"kind"})
	CronTicks        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconciler_cron_ticks_total", Help: "Cron driver ticks by outcome"}, []string{"outcome"})
	CronHangingReset = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_cron_hanging_total", Help: "Processing cron slots forced to error after the hang timeout"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_rate_limit_rejects_total", Help: "Cron triggers rejected by the rate limiter"})
	AlertCount       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "reconciler_alert_count", Help: "Operator alert counters"}, []string{"key"})
)

// Cron tick outcomes.
const (
	OutcomeRan     = "ran"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsSent,
			JobsFailedCheck,
			JobsSendErrors,
			CronTicks,
			CronHangingReset,
			RateLimitRejects,
			AlertCount,
		)
	})
	return promhttp.Handler()
}
