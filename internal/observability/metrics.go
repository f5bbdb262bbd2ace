package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the runtime: agent turns, LLM
// requests and token usage, tool executions, approval decisions, and sandbox
// activity. All metrics carry the raccoon_ prefix.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted()
//	defer metrics.TurnEnded("claude-sonnet-4-6", "complete", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: model, status (complete|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: model
	TurnDuration *prometheus.HistogramVec

	// ActiveTurns tracks turns currently streaming.
	ActiveTurns prometheus.Gauge

	// LLMRequestCounter counts provider streaming requests.
	// Labels: provider (anthropic|openai), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures provider stream latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval outcomes for gated tools.
	// Labels: decision (approved|denied|timeout)
	ApprovalCounter *prometheus.CounterVec

	// CodeBlockCounter counts fenced code blocks detected in model output.
	// Labels: language
	CodeBlockCounter *prometheus.CounterVec

	// SandboxCounter counts sandbox lifecycle events.
	// Labels: event (created|destroyed|expired)
	SandboxCounter *prometheus.CounterVec

	// ActiveSandboxes tracks currently provisioned sandboxes.
	ActiveSandboxes prometheus.Gauge

	// SandboxExecutionDuration measures code execution time in seconds.
	// Labels: language
	SandboxExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (orchestrator|provider|registry|mcp|sandbox|gateway), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry. Call once at startup; they are served by the /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics registered against reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration across cases.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_turns_total",
				Help: "Total number of agent turns by model and final status",
			},
			[]string{"model", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raccoon_turn_duration_seconds",
				Help:    "End-to-end duration of agent turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "raccoon_active_turns",
				Help: "Number of agent turns currently streaming",
			},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_llm_requests_total",
				Help: "Total number of LLM streaming requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raccoon_llm_request_duration_seconds",
				Help:    "Duration of LLM streaming requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raccoon_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_tool_approvals_total",
				Help: "Total number of tool approval outcomes by decision",
			},
			[]string{"decision"},
		),

		CodeBlockCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_code_blocks_total",
				Help: "Total number of fenced code blocks detected by language",
			},
			[]string{"language"},
		),

		SandboxCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_sandboxes_total",
				Help: "Total number of sandbox lifecycle events",
			},
			[]string{"event"},
		),

		ActiveSandboxes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "raccoon_active_sandboxes",
				Help: "Number of currently provisioned sandboxes",
			},
		),

		SandboxExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raccoon_sandbox_execution_duration_seconds",
				Help:    "Duration of sandboxed code executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 45},
			},
			[]string{"language"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raccoon_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// TurnStarted increments the active turns gauge.
func (m *Metrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active turns gauge and records the turn outcome.
func (m *Metrics) TurnEnded(model, status string, durationSeconds float64) {
	m.ActiveTurns.Dec()
	m.TurnCounter.WithLabelValues(model, status).Inc()
	m.TurnDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordLLMRequest records a provider streaming request, its latency, and the
// token usage reported on completion.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records a tool invocation and its latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records the outcome of an approval prompt.
func (m *Metrics) RecordApproval(decision string) {
	m.ApprovalCounter.WithLabelValues(decision).Inc()
}

// RecordCodeBlock records a detected fenced code block. Blocks without an
// info string are counted under "plain".
func (m *Metrics) RecordCodeBlock(language string) {
	if language == "" {
		language = "plain"
	}
	m.CodeBlockCounter.WithLabelValues(language).Inc()
}

// SandboxCreated increments the active sandbox gauge and the created counter.
func (m *Metrics) SandboxCreated() {
	m.ActiveSandboxes.Inc()
	m.SandboxCounter.WithLabelValues("created").Inc()
}

// SandboxDestroyed decrements the active sandbox gauge. The event is
// "destroyed" for explicit teardown, "expired" when the idle reaper fired.
func (m *Metrics) SandboxDestroyed(event string) {
	m.ActiveSandboxes.Dec()
	m.SandboxCounter.WithLabelValues(event).Inc()
}

// RecordSandboxExecution records a code execution inside a sandbox.
func (m *Metrics) RecordSandboxExecution(language string, durationSeconds float64) {
	m.SandboxExecutionDuration.WithLabelValues(language).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
