// control/dispatcher_metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus counters/gauges for the dispatcher core: per-metric objects
// registered on a private Registry, optionally pushed through push.New to
// a gateway.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DispatcherMetrics is the prometheus surface for the worker loop.
type DispatcherMetrics struct {
	registry *prometheus.Registry

	EventsDelivered prometheus.Counter
	TokensExhausted prometheus.Counter
	TimersFired     prometheus.Counter
	DescriptorCount prometheus.Gauge
}

// NewDispatcherMetrics builds and registers the dispatcher's metric set.
func NewDispatcherMetrics() *DispatcherMetrics {
	reg := prometheus.NewRegistry()
	m := &DispatcherMetrics{
		registry: reg,
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iodispatch_events_delivered_total",
			Help: "Readiness and timer events posted to application ports.",
		}),
		TokensExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iodispatch_tokens_exhausted_total",
			Help: "Readiness events that found no eligible subscriber due to token exhaustion.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iodispatch_timers_fired_total",
			Help: "Timer entries that reached their deadline.",
		}),
		DescriptorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iodispatch_descriptors",
			Help: "Live descriptor-info entries in the descriptor map.",
		}),
	}
	reg.MustRegister(m.EventsDelivered, m.TokensExhausted, m.TimersFired, m.DescriptorCount)
	return m
}

// Push ships the current metric set to a prometheus push gateway. url
// empty is a no-op, matching MetricsPushURL's default in DispatcherConfig.
func (m *DispatcherMetrics) Push(url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.registry).Push()
}
