// Package metrics exposes kernel counters on a private Prometheus registry.
// All record methods are safe to call on a nil receiver so components can be
// wired without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	executionsStarted    prometheus.Counter
	executionsFailed     prometheus.Counter
	incompleteInput      prometheus.Counter
	arbiterGrants        prometheus.Counter
	arbiterTimeouts      prometheus.Counter
	pendingCalls         prometheus.Gauge
	droppedNotifications prometheus.Counter
	rpcRequests          prometheus.Counter
	rpcRateLimited       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_executions_started_total",
			Help: "Execute requests submitted to the engine driver.",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_executions_failed_total",
			Help: "Executions that ended in an engine error.",
		}),
		incompleteInput: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_incomplete_input_total",
			Help: "Execute requests rejected as syntactically incomplete.",
		}),
		arbiterGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_arbiter_grants_total",
			Help: "Engine access grants handed to secondary goroutines.",
		}),
		arbiterTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_arbiter_timeouts_total",
			Help: "Engine access requests that timed out.",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_dispatch_pending_calls",
			Help: "Outbound calls awaiting a correlated response.",
		}),
		droppedNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_dropped_notifications_total",
			Help: "Hub subscribers dropped for not draining their channel.",
		}),
		rpcRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_rpc_requests_total",
			Help: "Inbound RPC payloads dispatched.",
		}),
		rpcRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_rpc_rate_limited_total",
			Help: "Inbound RPC payloads rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.executionsStarted,
		m.executionsFailed,
		m.incompleteInput,
		m.arbiterGrants,
		m.arbiterTimeouts,
		m.pendingCalls,
		m.droppedNotifications,
		m.rpcRequests,
		m.rpcRateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ExecutionStarted() {
	if m != nil {
		m.executionsStarted.Inc()
	}
}

func (m *Metrics) ExecutionFailed() {
	if m != nil {
		m.executionsFailed.Inc()
	}
}

func (m *Metrics) IncompleteInput() {
	if m != nil {
		m.incompleteInput.Inc()
	}
}

func (m *Metrics) ArbiterGrant() {
	if m != nil {
		m.arbiterGrants.Inc()
	}
}

func (m *Metrics) ArbiterTimeout() {
	if m != nil {
		m.arbiterTimeouts.Inc()
	}
}

func (m *Metrics) PendingCallsAdd(delta int) {
	if m != nil {
		m.pendingCalls.Add(float64(delta))
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.droppedNotifications.Inc()
	}
}

func (m *Metrics) RPCRequest() {
	if m != nil {
		m.rpcRequests.Inc()
	}
}

func (m *Metrics) RPCRateLimited() {
	if m != nil {
		m.rpcRateLimited.Inc()
	}
}
