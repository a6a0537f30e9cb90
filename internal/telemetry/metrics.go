package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsPublished     = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_published_total", Help: "Jobs handed to the broker"})
	JobsDispatched    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_dispatched_total", Help: "Jobs matched to a handler and started"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_completed_total", Help: "Handler invocations that succeeded"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_failed_total", Help: "Handler invocations that returned an error"})
	JobsDroppedFull   = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_dropped_capacity_total", Help: "Messages dropped at the concurrency ceiling"})
	JobsDroppedNoName = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_jobs_dropped_unregistered_total", Help: "Messages dropped for an unregistered job name"})
	JobsInFlight      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "leadflow_jobs_inflight", Help: "Handler invocations currently executing"})
	LeadsGenerated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_leads_generated_total", Help: "Leads returned by the discovery API"})
	CreditsDebited    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_credits_debited_total", Help: "Credits debited from organisation balances"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_rate_limit_rejects_total", Help: "Run requests rejected by the rate limiter"})
	WorkflowsReaped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadflow_workflows_reaped_total", Help: "Stuck RUNNING workflows reconciled by the sweep"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsPublished,
			JobsDispatched,
			JobsCompleted,
			JobsFailed,
			JobsDroppedFull,
			JobsDroppedNoName,
			JobsInFlight,
			LeadsGenerated,
			CreditsDebited,
			RateLimitRejects,
			WorkflowsReaped,
		)
	})
	return promhttp.Handler()
}
