package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the copilot service. Create
// exactly once at startup; collectors register with the default registry and
// surface at /metrics.
type Metrics struct {
	// ChatRequests counts chat requests by routed path and status.
	// Labels: path (local|streaming|standard), status (success|error)
	ChatRequests *prometheus.CounterVec

	// ChatDuration measures end-to-end chat handling latency in seconds.
	// Labels: path
	ChatDuration *prometheus.HistogramVec

	// ModelRequests counts provider calls.
	// Labels: provider, tier (streaming|standard), status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelTokens tracks token consumption.
	// Labels: provider, tier, type (input|output)
	ModelTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations by outcome. err_kind is empty
	// on success.
	// Labels: tool, err_kind
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// CacheLookups counts read-tool cache hits and misses.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// RateLimited counts requests rejected by the per-caller limiter.
	RateLimited prometheus.Counter

	// ConfirmationTickets counts two-phase confirmation ticket events.
	// Labels: event (issued|consumed|rejected)
	ConfirmationTickets *prometheus.CounterVec

	// HTTPRequests counts requests at the gateway.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures gateway request latency in seconds.
	// Labels: method, path
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors with the default registry.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

// NewTestMetrics registers collectors on a private registry so parallel
// tests never collide on duplicate registration.
func NewTestMetrics() *Metrics {
	return newMetricsWith(prometheus.NewRegistry())
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_chat_requests_total",
				Help: "Chat requests by routed path and status",
			},
			[]string{"path", "status"},
		),
		ChatDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_chat_duration_seconds",
				Help:    "End-to-end chat handling latency",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_model_requests_total",
				Help: "Model provider calls by provider, tier, and status",
			},
			[]string{"provider", "tier", "status"},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_model_tokens_total",
				Help: "Tokens consumed by provider, tier, and type",
			},
			[]string{"provider", "tier", "type"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_tool_executions_total",
				Help: "Tool invocations by tool and error kind (empty on success)",
			},
			[]string{"tool", "err_kind"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_tool_duration_seconds",
				Help:    "Tool execution latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cache_lookups_total",
				Help: "Read-tool cache lookups by result",
			},
			[]string{"result"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_rate_limited_total",
				Help: "Requests rejected by the per-caller rate limiter",
			},
		),
		ConfirmationTickets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_confirmation_tickets_total",
				Help: "Two-phase confirmation ticket events",
			},
			[]string{"event"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_http_requests_total",
				Help: "Gateway requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_http_request_duration_seconds",
				Help:    "Gateway request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}
