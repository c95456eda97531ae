// Package metrics exposes Prometheus instruments for adapter activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the adapter and HTTP instruments. A nil *Metrics discards
// every observation.
type Metrics struct {
	BootstrapTotal    *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	DatasetLoadsTotal *prometheus.CounterVec
	BridgeRetries     *prometheus.CounterVec
	SessionsActive    prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the instruments and registers them on registry. A nil
// registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		BootstrapTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalab_bootstrap_total",
				Help: "Engine bootstraps by language and result",
			},
			[]string{"lang", "result"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalab_runs_total",
				Help: "Code runs by language and error kind",
			},
			[]string{"lang", "kind"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datalab_run_duration_seconds",
				Help:    "Code run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"lang"},
		),
		DatasetLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalab_dataset_loads_total",
				Help: "Dataset loads by language and result",
			},
			[]string{"lang", "result"},
		),
		BridgeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalab_bridge_retries_total",
				Help: "Scoped evaluations retried after a bridge fault",
			},
			[]string{"lang"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "datalab_sessions_active",
				Help: "Adapter sessions held by the server",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datalab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datalab_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.BootstrapTotal,
		m.RunsTotal,
		m.RunDuration,
		m.DatasetLoadsTotal,
		m.BridgeRetries,
		m.SessionsActive,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) Bootstrap(lang, result string) {
	if m == nil {
		return
	}
	m.BootstrapTotal.WithLabelValues(lang, result).Inc()
}

func (m *Metrics) Run(lang, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(lang, kind).Inc()
	m.RunDuration.WithLabelValues(lang).Observe(d.Seconds())
}

func (m *Metrics) DatasetLoad(lang, result string) {
	if m == nil {
		return
	}
	m.DatasetLoadsTotal.WithLabelValues(lang, result).Inc()
}

func (m *Metrics) BridgeRetry(lang string) {
	if m == nil {
		return
	}
	m.BridgeRetries.WithLabelValues(lang).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests and observes their duration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
