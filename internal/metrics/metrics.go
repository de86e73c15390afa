// (C) 2025 GoodData Corporation

// Package metrics exposes prometheus collectors for the request engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics bundles the engine collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry
	handler  fasthttp.RequestHandler

	Requests       *prometheus.CounterVec
	ReplayHits     prometheus.Counter
	ReplayMisses   prometheus.Counter
	UpstreamErrors prometheus.Counter
	ChaosInjected  prometheus.Counter
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpilot_requests_total",
			Help: "Requests handled, by mode and method.",
		}, []string{"mode", "method"}),
		ReplayHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockpilot_replay_hits_total",
			Help: "Replay lookups answered from storage.",
		}),
		ReplayMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockpilot_replay_misses_total",
			Help: "Replay lookups with no matching entry.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockpilot_upstream_errors_total",
			Help: "Upstream forwards that failed or timed out.",
		}),
		ChaosInjected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockpilot_chaos_errors_injected_total",
			Help: "Synthetic errors injected by the chaos layer.",
		}),
	}
	registry.MustRegister(
		m.Requests, m.ReplayHits, m.ReplayMisses, m.UpstreamErrors, m.ChaosInjected,
	)
	m.handler = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	return m
}

// Handler returns the fasthttp handler serving the prometheus text format.
// The handler is built once at construction.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return m.handler
}
