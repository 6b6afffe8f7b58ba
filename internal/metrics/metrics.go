// Package metrics exposes the agent runtime's Prometheus counters.
// Grounded on internal/observability/metrics.go's Metrics struct +
// NewMetrics() constructor idiom, scoped down to agent steps, tool
// dispatch, escalation strategy, and tunnel reconnects rather than
// the message/LLM/session set observability.Metrics covers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter the runtime exports on GET /metrics.
type Metrics struct {
	// AgentSteps counts every agent loop step taken, by agent.
	AgentSteps *prometheus.CounterVec

	// ToolDispatch counts tool dispatches, by tool and outcome (ok|error).
	ToolDispatch *prometheus.CounterVec

	// EscalationStrategy counts escalation decisions, by strategy.
	EscalationStrategy *prometheus.CounterVec

	// TunnelReconnects counts reverse tunnel reconnect attempts.
	TunnelReconnects prometheus.Counter
}

// NewMetrics registers and returns the runtime's collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		AgentSteps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_steps_total",
			Help: "Total agent loop steps taken, by agent.",
		}, []string{"agent"}),

		ToolDispatch: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_dispatch_total",
			Help: "Total tool dispatches, by tool and outcome.",
		}, []string{"tool", "outcome"}),

		EscalationStrategy: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_strategy_total",
			Help: "Total escalation decisions, by strategy.",
		}, []string{"strategy"}),

		TunnelReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnel_reconnects_total",
			Help: "Total reverse tunnel reconnect attempts.",
		}),
	}
}

// ToolOutcome maps a dispatch result to the "ok"/"error" label value,
// matching toolregistry.IsError's ERROR: prefix contract.
func ToolOutcome(isError bool) string {
	if isError {
		return "error"
	}
	return "ok"
}
