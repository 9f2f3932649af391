// Package telemetry collects Prometheus metrics for the orchestrator core:
// react loop turns and duration, tool call outcomes, agent pool occupancy,
// and approval latency. Grounded on internal/observability/metrics.go's
// CounterVec/HistogramVec/GaugeVec layout, narrowed to this repo's own
// domain instead of the teacher's channel/HTTP/database surface.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so
// components can accept a *Metrics field without a running Prometheus
// registry forcing itself into every code path.
type Metrics struct {
	LoopTurns    *prometheus.HistogramVec
	LoopDuration *prometheus.HistogramVec
	LoopRequests *prometheus.CounterVec

	ToolCallDuration *prometheus.HistogramVec
	ToolCallCounter  *prometheus.CounterVec

	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	PoolSize          *prometheus.GaugeVec
	PoolEvictions     *prometheus.CounterVec
	ApprovalLatency   prometheus.Histogram
	ApprovalOutcomes  *prometheus.CounterVec
	ContextTrimEvents *prometheus.CounterVec
}

// New creates and registers every metric on the given registerer. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics
// across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoopTurns: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_loop_turns",
				Help:    "Number of ReactLoop turns per HandleMessage call",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"outcome"},
		),
		LoopDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_loop_duration_seconds",
				Help:    "Wall-clock duration of a ReactLoop run",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		LoopRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_loop_requests_total",
				Help: "Total HandleMessage invocations by outcome",
			},
			[]string{"outcome"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_call_duration_seconds",
				Help:    "Duration of a single tool or agent-tool call",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "status"},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tool_calls_total",
				Help: "Total tool calls by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_llm_request_duration_seconds",
				Help:    "Duration of a single LLM provider Chat call",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),
		PoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_pool_size",
				Help: "Current number of parked agent instances by status",
			},
			[]string{"status"},
		),
		PoolEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_pool_evictions_total",
				Help: "Total pool entries removed by reason",
			},
			[]string{"reason"},
		),
		ApprovalLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_approval_latency_seconds",
				Help:    "Time between an approval request being built and its resolution",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
			},
		),
		ApprovalOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_approval_outcomes_total",
				Help: "Total resolved approvals by action",
			},
			[]string{"action"},
		),
		ContextTrimEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_context_trim_total",
				Help: "Total context-window recovery steps applied, by step",
			},
			[]string{"step"},
		),
	}
}

func (m *Metrics) ObserveLoop(outcome string, turns int, duration time.Duration) {
	if m == nil {
		return
	}
	m.LoopTurns.WithLabelValues(outcome).Observe(float64(turns))
	m.LoopDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.LoopRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveToolCall(toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallDuration.WithLabelValues(toolName, status).Observe(duration.Seconds())
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
}

func (m *Metrics) ObserveLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) SetPoolSize(status string, count int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.PoolEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordApprovalResolution(action string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ApprovalLatency.Observe(latency.Seconds())
	m.ApprovalOutcomes.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordContextTrim(step string) {
	if m == nil {
		return
	}
	m.ContextTrimEvents.WithLabelValues(step).Inc()
}
