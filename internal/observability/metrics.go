// Package observability provides Prometheus metrics for the session gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized metrics registry for the gateway.
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.SessionsRunning.Inc()
//	defer metrics.SessionsRunning.Dec()
type Metrics struct {
	// SessionsRunning is a gauge of generation loops currently running.
	SessionsRunning prometheus.Gauge

	// EventsEmitted counts server events by kind.
	// Labels: kind (content|thinking|tool_call|...)
	EventsEmitted *prometheus.CounterVec

	// RunsFinished counts generation runs by final status.
	// Labels: status (completed|aborted|error)
	RunsFinished *prometheus.CounterVec

	// LLMRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// SnapshotPersistFailures counts failed snapshot writes.
	SnapshotPersistFailures prometheus.Counter

	// ConnectedClients is a gauge of open websocket connections.
	ConnectedClients prometheus.Gauge
}

// NewMetrics creates and registers all metrics. A nil registerer uses the
// Prometheus default registry; tests pass their own to avoid duplicate
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loom_sessions_running",
			Help: "Number of generation loops currently running",
		}),

		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_events_emitted_total",
				Help: "Total number of server events emitted by kind",
			},
			[]string{"kind"},
		),

		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_runs_finished_total",
				Help: "Total number of generation runs by final status",
			},
			[]string{"status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_llm_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		SnapshotPersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_snapshot_persist_failures_total",
			Help: "Total number of failed conversation snapshot writes",
		}),

		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loom_connected_clients",
			Help: "Number of open websocket connections",
		}),
	}
}
