// Package metrics defines the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing, which keeps tests that do not
// care about instrumentation free of registry setup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "papertrade"

// Price fetch outcomes.
const (
	PriceFetchOK       = "ok"
	PriceFetchFallback = "fallback"
)

// Metrics bundles the service's collectors.
type Metrics struct {
	TradesExecuted *prometheus.CounterVec
	TradesRejected *prometheus.CounterVec
	PriceFetches   *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Accepted trades by side.",
		}, []string{"side"}),
		TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_rejected_total",
			Help:      "Rejected trades by reason.",
		}, []string{"reason"}),
		PriceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetch_total",
			Help:      "Price oracle lookups by result (ok or fallback).",
		}, []string{"result"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ticker_sessions_active",
			Help:      "Ticker stream sessions currently streaming.",
		}),
	}
	reg.MustRegister(m.TradesExecuted, m.TradesRejected, m.PriceFetches, m.ActiveSessions)
	return m
}

// TradeExecuted counts an accepted trade.
func (m *Metrics) TradeExecuted(side string) {
	if m == nil {
		return
	}
	m.TradesExecuted.WithLabelValues(side).Inc()
}

// TradeRejected counts a rejected trade.
func (m *Metrics) TradeRejected(reason string) {
	if m == nil {
		return
	}
	m.TradesRejected.WithLabelValues(reason).Inc()
}

// PriceFetch counts a price oracle lookup.
func (m *Metrics) PriceFetch(result string) {
	if m == nil {
		return
	}
	m.PriceFetches.WithLabelValues(result).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
