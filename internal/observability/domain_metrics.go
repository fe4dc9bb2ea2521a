package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_pipeline_requests_total",
			Help: "Total number of pipeline runs by outcome (ok or failure kind).",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlquery_pipeline_stage_duration_seconds",
			Help:    "Latency of individual pipeline stages.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlquery_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)
	deniedStatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlquery_denied_statements_total",
			Help: "Total number of generated statements rejected as denied operations.",
		},
	)
	rateLimitTrackedKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlquery_rate_limit_tracked_keys",
			Help: "Number of client keys currently tracked by the rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		pipelineStageDurationSeconds,
		rateLimitedTotal,
		deniedStatementsTotal,
		rateLimitTrackedKeys,
	)
}

// ObservePipelineOutcome counts one pipeline run. outcome is "ok" or a failure kind.
func ObservePipelineOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementRateLimited() {
	rateLimitedTotal.Inc()
}

func IncrementDeniedStatement() {
	deniedStatementsTotal.Inc()
}

func SetRateLimitTrackedKeys(count int) {
	if count < 0 {
		count = 0
	}
	rateLimitTrackedKeys.Set(float64(count))
}
