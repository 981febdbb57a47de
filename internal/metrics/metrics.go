// Package metrics exposes Prometheus collectors for the ACP runtime.
//
// Each Metrics value owns its registry so tests and multiple servers in one
// process don't collide on the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acpchat"

// Prompt outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeAuthRequired = "auth_required"
)

// Metrics groups the runtime collectors.
type Metrics struct {
	registry *prometheus.Registry

	prompts         *prometheus.CounterVec
	promptDuration  *prometheus.HistogramVec
	autoRejected    prometheus.Counter
	permissions     *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	sessions        *prometheus.GaugeVec
	agentsRunning   prometheus.Gauge
	terminalsOpen   prometheus.Gauge
	terminalsOpened prometheus.Counter
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_total",
			Help:      "Prompt turns by agent type and outcome.",
		}, []string{"agent", "outcome"}),
		promptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_duration_seconds",
			Help:      "Time from prompt send to the agent's final response.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"agent"}),
		autoRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permissions_auto_rejected_total",
			Help:      "Pending permission requests rejected because a new turn started.",
		}),
		permissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_requests_total",
			Help:      "Permission requests by how they ended.",
		}, []string{"agent", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_callbacks_total",
			Help:      "Agent-initiated requests by method and result.",
		}, []string{"method", "result"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with a mapped participant.",
		}, []string{"agent"}),
		agentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_running",
			Help:      "Agent subprocesses currently connected.",
		}),
		terminalsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminals_open",
			Help:      "Terminals created and not yet released.",
		}),
		terminalsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminals_created_total",
			Help:      "Terminals created by agents.",
		}),
	}
	m.registry.MustRegister(
		m.prompts, m.promptDuration, m.autoRejected, m.permissions, m.callbacks,
		m.sessions, m.agentsRunning, m.terminalsOpen, m.terminalsOpened,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePrompt(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(agent, outcome).Inc()
	m.promptDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) AddAutoRejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.autoRejected.Add(float64(n))
}

// ObservePermission counts a finished permission wait; result is
// "selected", "cancelled" or "aborted".
func (m *Metrics) ObservePermission(agent, result string) {
	if m == nil {
		return
	}
	m.permissions.WithLabelValues(agent, result).Inc()
}

func (m *Metrics) ObserveCallback(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.callbacks.WithLabelValues(method, result).Inc()
}

func (m *Metrics) SessionOpened(agent string) {
	if m != nil {
		m.sessions.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) SessionClosed(agent string) {
	if m != nil {
		m.sessions.WithLabelValues(agent).Dec()
	}
}

func (m *Metrics) AgentStarted() {
	if m != nil {
		m.agentsRunning.Inc()
	}
}

func (m *Metrics) AgentStopped() {
	if m != nil {
		m.agentsRunning.Dec()
	}
}

// TerminalOpened implements terminal.Observer.
func (m *Metrics) TerminalOpened() {
	if m != nil {
		m.terminalsOpen.Inc()
		m.terminalsOpened.Inc()
	}
}

// TerminalReleased implements terminal.Observer.
func (m *Metrics) TerminalReleased() {
	if m != nil {
		m.terminalsOpen.Dec()
	}
}
