// Package observability provides Prometheus metrics for the chat pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the pipeline's Prometheus instruments.
type Metrics struct {
	// ChatRequests counts chat requests by terminal outcome.
	// Labels: outcome (done|error|busy)
	ChatRequests *prometheus.CounterVec

	// LLMRequests counts LLM calls by provider, mode, and status.
	// Labels: provider, mode (complete|stream), status (success|error)
	LLMRequests *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// CacheLookups counts search-cache lookups.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// LoopRounds observes tool-calling rounds per request.
	LoopRounds prometheus.Histogram
}

// NewMetrics registers pipeline metrics on a registry. Passing nil uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_chat_requests_total",
			Help: "Chat requests by terminal outcome.",
		}, []string{"outcome"}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_llm_requests_total",
			Help: "LLM calls by provider, mode, and status.",
		}, []string{"provider", "mode", "status"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tool_executions_total",
			Help: "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_tool_duration_seconds",
			Help:    "Tool execution time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_search_cache_lookups_total",
			Help: "Search cache lookups by result.",
		}, []string{"result"}),

		LoopRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_loop_rounds",
			Help:    "Tool-calling rounds per chat request.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8},
		}),
	}
}
