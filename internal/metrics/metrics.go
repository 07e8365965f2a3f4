// Package metrics exposes Prometheus collectors for calls and call records.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several application states can coexist
// in one process (tests in particular).
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls      prometheus.Gauge
	CallsTotal       *prometheus.CounterVec
	CallRecordsTotal *prometheus.CounterVec
	CallRecordsDrop  prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_calls",
			Help: "Number of calls currently in the active-call registry",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_calls_total",
			Help: "Total number of calls started",
		}, []string{"call_type"}),
		CallRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_callrecords_total",
			Help: "Call records processed by backend and result",
		}, []string{"backend", "result"}),
		CallRecordsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_callrecords_dropped_total",
			Help: "Call records dropped because the queue was full or closed",
		}),
	}

	m.registry.MustRegister(
		m.ActiveCalls,
		m.CallsTotal,
		m.CallRecordsTotal,
		m.CallRecordsDrop,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CallStarted records a new active call
func (m *Metrics) CallStarted(callType string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(callType).Inc()
	m.ActiveCalls.Inc()
}

// CallEnded records the end of an active call
func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

// CallRecordSaved records the outcome of persisting one call record
func (m *Metrics) CallRecordSaved(backend string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CallRecordsTotal.WithLabelValues(backend, result).Inc()
}

// CallRecordDropped records a record that never reached the manager
func (m *Metrics) CallRecordDropped() {
	if m == nil {
		return
	}
	m.CallRecordsDrop.Inc()
}
