// Package metrics exposes Prometheus instrumentation for the scheduler. Each
// App owns its own registry so tests and embedded runs never collide on the
// global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's collectors around a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Instances     *prometheus.CounterVec
	ActiveWorkers prometheus.Gauge
	CacheLookups  *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Instances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "samplegrid",
		Name:      "stage_instances_total",
		Help:      "Stage instances by stage and terminal outcome.",
	}, []string{"stage", "outcome"})

	m.ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samplegrid",
		Name:      "active_workers",
		Help:      "Workers currently executing a stage instance.",
	})

	m.CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "samplegrid",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result (hit, miss, inconsistent).",
	}, []string{"result"})

	m.registry.MustRegister(m.Instances, m.ActiveWorkers, m.CacheLookups)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
