package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rwe_build_info",
			Help: "Build information of the RWE cohort assistant",
		},
		[]string{"version", "commit", "date"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rwe_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"stage"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_llm_calls_total",
			Help: "Total number of generative backend calls",
		},
		[]string{"provider", "status"},
	)

	StructuredOutputFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_structured_output_failures_total",
			Help: "Structured agent outputs that failed to parse or validate",
		},
		[]string{"agent", "kind"},
	)

	SandboxOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_sandbox_outcomes_total",
			Help: "Analysis executions by outcome",
		},
		[]string{"outcome"},
	)

	TableLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_table_loads_total",
			Help: "Table store lookups by cache result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rwe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool_name", "status"},
	)

	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwe_feedback_total",
			Help: "User feedback submissions by polarity",
		},
		[]string{"useful"},
	)

	IndexedChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rwe_indexed_chunks_total",
			Help: "Chunks embedded and written to the retrieval index",
		},
	)
)
