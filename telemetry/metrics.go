package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the turn engine's Prometheus instruments. The zero value is
// not usable; construct with NewMetrics. A nil *Metrics is valid everywhere
// a *Metrics parameter is accepted and every method no-ops, so instruments
// are entirely optional for callers that don't register a Registerer.
type Metrics struct {
	retryAttemptsTotal  *prometheus.CounterVec
	toolDispatchSeconds *prometheus.HistogramVec
	compactionsTotal    *prometheus.CounterVec
	thinningEventsTotal *prometheus.CounterVec
	contextUsedTokens   prometheus.Gauge
}

// NewMetrics creates and registers the turn engine's instruments against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnengine_retry_attempts_total",
				Help: "Total number of provider-call retry attempts, by error kind.",
			},
			[]string{"kind"},
		),
		toolDispatchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnengine_tool_dispatch_seconds",
				Help:    "Tool call dispatch latency in seconds, by tool name and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool", "status"},
		),
		compactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnengine_compactions_total",
				Help: "Total number of compaction passes, by outcome.",
			},
			[]string{"outcome"},
		),
		thinningEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnengine_thinning_events_total",
				Help: "Total number of auto-thin passes, by scope.",
			},
			[]string{"scope"},
		),
		contextUsedTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnengine_context_used_tokens",
				Help: "Tokens currently used in the active session's context window.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.retryAttemptsTotal,
			m.toolDispatchSeconds,
			m.compactionsTotal,
			m.thinningEventsTotal,
			m.contextUsedTokens,
		)
	}
	return m
}

// RecordRetryAttempt records one retry attempt classified as kind.
func (m *Metrics) RecordRetryAttempt(kind string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(kind).Inc()
}

// RecordToolDispatch records one tool call's dispatch latency.
func (m *Metrics) RecordToolDispatch(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolDispatchSeconds.WithLabelValues(tool, status).Observe(d.Seconds())
}

// RecordCompaction records one compaction attempt's outcome ("success" or
// "fallback").
func (m *Metrics) RecordCompaction(outcome string) {
	if m == nil {
		return
	}
	m.compactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordThinning records one auto-thin pass over the given scope.
func (m *Metrics) RecordThinning(scope string) {
	if m == nil {
		return
	}
	m.thinningEventsTotal.WithLabelValues(scope).Inc()
}

// SetContextUsedTokens reports the session's current token usage.
func (m *Metrics) SetContextUsedTokens(tokens int) {
	if m == nil {
		return
	}
	m.contextUsedTokens.Set(float64(tokens))
}
