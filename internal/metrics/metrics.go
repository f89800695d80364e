// Package metrics exposes Prometheus metrics for page rendering.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "pyhost"

// Render and script outcomes.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusConfigError = "config_error"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	rendersTotal   *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	scriptsTotal   *prometheus.CounterVec
	scriptDuration prometheus.Histogram
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		rendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "renders_total",
				Help:      "Total number of pages rendered",
			},
			[]string{"status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of page rendering in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		scriptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scripts_total",
				Help:      "Total number of script blocks executed",
			},
			[]string{"status"},
		),
		scriptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "script_duration_seconds",
				Help:      "Duration of script block execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sessions",
				Help:      "Number of interpreter sessions currently open",
			},
		),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.scriptsTotal,
		m.scriptDuration,
		m.activeSessions,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) RecordRender(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.rendersTotal.WithLabelValues(status).Inc()
	m.renderDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordScript records one script block; err is its failure, if any.
func (m *Metrics) RecordScript(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.scriptsTotal.WithLabelValues(status).Inc()
	m.scriptDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
