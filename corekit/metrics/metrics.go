// Package metrics centralizes askyd's Prometheus collectors: turn
// outcomes, tool execution, and daemon message flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a process-wide collector set, constructed once and threaded
// through the orchestrator and daemon router.
type Metrics struct {
	// TurnCounter counts completed turns. Labels: outcome (ok|halted|error).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures one RunTurn call's wall time in seconds.
	TurnDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations. Labels: tool, status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// DaemonMessageCounter counts inbound daemon messages. Labels: channel, outcome.
	DaemonMessageCounter *prometheus.CounterVec

	// ActiveSessions gauges sessions with at least one message in the
	// current process lifetime. Labels: none (single process-wide gauge).
	ActiveSessions prometheus.Gauge
}

// IncDaemonMessage implements daemonrouter.MessageCounter.
func (m *Metrics) IncDaemonMessage(channel, outcome string) {
	m.DaemonMessageCounter.WithLabelValues(channel, outcome).Inc()
}

// New registers and returns a Metrics collector set against reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asky_turns_total",
			Help: "Completed turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asky_turn_duration_seconds",
			Help:    "Turn wall-clock duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asky_tool_executions_total",
			Help: "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asky_tool_execution_duration_seconds",
			Help:    "Tool dispatch latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		DaemonMessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asky_daemon_messages_total",
			Help: "Inbound daemon messages by channel and outcome.",
		}, []string{"channel", "outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asky_active_sessions",
			Help: "Sessions touched since process start.",
		}),
	}
}
