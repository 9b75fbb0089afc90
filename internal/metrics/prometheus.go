package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics mirrors the hot-path signals into the Prometheus default
// registry so an operator can scrape the process alongside the in-process
// snapshots served by the get-metrics tool.
type PromMetrics struct {
	// ToolInvocations counts tool calls by tool name and status.
	// Labels: tool, status (success|error)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool handler latency in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// BulkItemsProcessed counts per-item outcomes inside bulk operations.
	// Labels: action, outcome (success|failure|skipped)
	BulkItemsProcessed *prometheus.CounterVec

	// TokenAcquisitions counts credential-source invocations by outcome.
	// Labels: outcome (success|error|cached)
	TokenAcquisitions *prometheus.CounterVec

	// ActiveHandles gauges the number of live query handles.
	ActiveHandles prometheus.Gauge

	// TransportErrors counts framing and parse errors by kind.
	// Labels: kind (parse|header|stream)
	TransportErrors *prometheus.CounterVec
}

// NewPromMetrics registers all collectors with the default registry.
// Call once at startup.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		ToolInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adowork_tool_invocations_total",
				Help: "Total number of tool invocations by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adowork_tool_duration_seconds",
				Help:    "Duration of tool handler execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		BulkItemsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adowork_bulk_items_total",
				Help: "Total per-item outcomes inside bulk operations",
			},
			[]string{"action", "outcome"},
		),
		TokenAcquisitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adowork_token_acquisitions_total",
				Help: "Total credential source invocations by outcome",
			},
			[]string{"outcome"},
		),
		ActiveHandles: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "adowork_active_query_handles",
				Help: "Current number of unexpired query handles",
			},
		),
		TransportErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adowork_transport_errors_total",
				Help: "Total transport framing and parse errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordToolInvocation records a completed tool call.
func (m *PromMetrics) RecordToolInvocation(tool, status string, durationSeconds float64) {
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}
