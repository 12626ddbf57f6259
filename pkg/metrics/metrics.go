// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Call outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics bundles the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	// InFlightCalls tracks calls currently executing across all sessions.
	InFlightCalls prometheus.Gauge
	// CallsTotal counts terminal call outcomes.
	CallsTotal *prometheus.CounterVec
	// CallDuration observes wall time from receipt to terminal outcome.
	CallDuration *prometheus.HistogramVec
}

// New builds and registers the collectors. activeSessions is sampled on
// scrape so the gauge never needs explicit upkeep.
func New(activeSessions func() float64) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		InFlightCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp_gateway",
			Name:      "in_flight_calls",
			Help:      "Calls currently executing against an upstream.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_gateway",
			Name:      "calls_total",
			Help:      "Terminal call outcomes.",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp_gateway",
			Name:      "call_duration_seconds",
			Help:      "Call wall time from receipt to terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mcp_gateway",
			Name:      "active_sessions",
			Help:      "Live sessions in the registry.",
		}, activeSessions),
		m.InFlightCalls,
		m.CallsTotal,
		m.CallDuration,
	)

	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
