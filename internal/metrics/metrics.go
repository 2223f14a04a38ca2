// Package metrics exposes the orchestrator's request-level counters and
// latency histograms through prometheus/client_golang, scraped at GET
// /metrics (§11 domain stack). Grouped the way the teacher groups its pool
// and event-bus metrics: one struct owning every collector, registered once
// at construction against its own registry rather than the global default,
// so multiple engines (or test runs) never collide on duplicate names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every collector the decision engine exports.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	DecisionLatency prometheus.Histogram
	ActionsTotal    *prometheus.CounterVec
	HoldReasons     *prometheus.CounterVec
}

// New builds a Registry with its own prometheus.Registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decision_engine",
		Name:      "requests_total",
		Help:      "Total decide() requests handled, by outcome.",
	}, []string{"outcome"})

	r.DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "decision_engine",
		Name:      "decision_latency_seconds",
		Help:      "Wall-clock latency of a single decide() call.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	r.ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decision_engine",
		Name:      "actions_total",
		Help:      "Total replies returned, by action.",
	}, []string{"action", "symbol"})

	r.HoldReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decision_engine",
		Name:      "hold_reasons_total",
		Help:      "Total HOLD replies, by reason.",
	}, []string{"reason"})

	r.reg.MustRegister(r.RequestsTotal, r.DecisionLatency, r.ActionsTotal, r.HoldReasons)
	return r
}

// Registerer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.reg
}

// ObserveRequest records one request's outcome and latency.
func (r *Registry) ObserveRequest(outcome string, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(outcome).Inc()
	r.DecisionLatency.Observe(elapsed.Seconds())
}

// ObserveAction records the reply action for a symbol, and its hold reason
// when the action was HOLD.
func (r *Registry) ObserveAction(symbol, action, reason string) {
	r.ActionsTotal.WithLabelValues(action, symbol).Inc()
	if action == "HOLD" {
		r.HoldReasons.WithLabelValues(reason).Inc()
	}
}
