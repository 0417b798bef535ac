// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the watcher.
type Metrics struct {
	// Transport metrics
	UpdatesReceived   *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	TransportDegraded prometheus.Gauge

	// Pipeline metrics
	DecodeFailures prometheus.Counter
	SwapsExtracted *prometheus.CounterVec
	CandlesClosed  prometheus.Counter
	AlertsEmitted  *prometheus.CounterVec
	AlertsDropped  prometheus.Counter

	// Fallback quote metrics
	QuoteRequests *prometheus.CounterVec

	// Monitor metrics
	ActiveMonitors prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered against reg. Passing a
// fresh registry keeps independent instances (and tests) from colliding.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "signal_watch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UpdatesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "updates_received_total",
			Help:      "Total number of stream updates received by kind",
		}, []string{"kind"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of transport reconnect attempts",
		}),
		TransportDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "degraded",
			Help:      "1 when the transport gave up reconnecting and only fallback polling runs",
		}),

		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decode_failures_total",
			Help:      "Total number of account payloads that failed to decode",
		}),
		SwapsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "swaps_extracted_total",
			Help:      "Total number of swap events extracted by side",
		}, []string{"side"}),
		CandlesClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "candles_closed_total",
			Help:      "Total number of candles closed across all monitors",
		}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_emitted_total",
			Help:      "Total number of alerts emitted by type",
		}, []string{"type"}),
		AlertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_dropped_total",
			Help:      "Total number of alerts dropped because a subscriber buffer was full",
		}),

		QuoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "requests_total",
			Help:      "Total number of fallback quote lookups by result",
		}, []string{"result"}),

		ActiveMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active",
			Help:      "Current number of active token monitors",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
