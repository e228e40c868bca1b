// Package metrics defines the prometheus collectors the server exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes recorded on TurnsTotal.
const (
	OutcomeWorkflow = "workflow"
	OutcomeAI       = "ai"
	OutcomeHandoff  = "handoff"
	OutcomeName     = "name_capture"
	OutcomeSilent   = "silent"
	OutcomeFailed   = "failed"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	aiCalls       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	actions       *prometheus.CounterVec
	dropped       prometheus.Counter
	connections   *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "turns_total",
			Help:      "Visitor turns processed, by outcome.",
		}, []string{"outcome"}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "ai_calls_total",
			Help:      "Calls to the AI responder, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "notifications_total",
			Help:      "Human notifications sent, by result.",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "dashboard_actions_total",
			Help:      "Dashboard actions, by action and result.",
		}, []string{"action", "result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "realtime_dropped_events_total",
			Help:      "Events dropped because a connection send queue was full.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatflow",
			Name:      "realtime_connections",
			Help:      "Live realtime connections, by role.",
		}, []string{"role"}),
	}

	reg.MustRegister(
		m.turns, m.aiCalls, m.notifications, m.actions, m.dropped, m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Turn(outcome string) {
	if m != nil {
		m.turns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AICall(ok bool) {
	if m != nil {
		m.aiCalls.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) Notification(ok bool) {
	if m != nil {
		m.notifications.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) Action(action string, ok bool) {
	if m != nil {
		m.actions.WithLabelValues(action, result(ok)).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) ConnectionOpened(role string) {
	if m != nil {
		m.connections.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) ConnectionClosed(role string) {
	if m != nil {
		m.connections.WithLabelValues(role).Dec()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
