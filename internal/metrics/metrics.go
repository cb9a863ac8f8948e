package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AI service metrics for production monitoring
var (
	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_analyses_total",
			Help: "Total number of incident analyses started",
		},
		[]string{"status"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultline_ai_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_ai_step_duration_seconds",
			Help:    "Single orchestrator/agent step duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3min
		},
		[]string{"component"}, // component: orchestrator/react
	)

	ReactCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_ai_react_cycles_total",
			Help: "Total number of completed think/act/observe cycles",
		},
	)

	HypothesesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_hypotheses_generated_total",
			Help: "Total number of hypotheses produced by the generator",
		},
		[]string{"source"}, // source: knowledge_base/llm/fallback
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_evaluations_total",
			Help: "Total number of hypothesis evaluations",
		},
		[]string{"status"}, // status: confirmed/rejected/inconclusive
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_ai_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_tool_calls_total",
			Help: "Total number of telemetry tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_ai_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"tool"},
	)

	// Cache metrics
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_cache_events_total",
			Help: "Telemetry result cache hits, misses, and evictions",
		},
		[]string{"event"}, // event: hit/miss/evict
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	// Telemetry gateway client metrics
	GatewayHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_ai_gateway_healthy",
			Help: "Whether the telemetry gateway health probe succeeds (1=healthy, 0=unhealthy)",
		},
	)

	GatewayReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_ai_gateway_reconnects_total",
			Help: "Total number of telemetry gateway reconnection attempts",
		},
	)

	GatewayQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ai_gateway_queries_total",
			Help: "Total number of telemetry gateway queries",
		},
		[]string{"source", "status"}, // source: logs/metrics/traces/changes/runbooks
	)
)
