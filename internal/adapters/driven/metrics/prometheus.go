package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var _ driven.SweepMetrics = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RefreshTotal counts refresh attempts by platform and outcome
	RefreshTotal *prometheus.CounterVec
	// RefreshDuration tracks provider refresh latency
	RefreshDuration *prometheus.HistogramVec
	// SweepsTotal counts finished sweeps
	SweepsTotal prometheus.Counter
	// SweepErrorsTotal counts sweeps that could not select or persist records
	SweepErrorsTotal prometheus.Counter
	// SweepRecords reports the record counts of the last sweep
	SweepRecords *prometheus.GaugeVec
	// SweepDuration tracks how long sweeps take
	SweepDuration prometheus.Histogram
	// LastSweepTimestamp is the unix time of the last finished sweep
	LastSweepTimestamp prometheus.Gauge
	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Token refresh attempts by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_duration_seconds",
				Help:      "Provider refresh call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"platform"},
		),
		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_sweeps_total",
				Help:      "Refresh sweeps that ran to completion",
			},
		),
		SweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_sweep_errors_total",
				Help:      "Refresh sweeps that returned an error",
			},
		),
		SweepRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_sweep_records",
				Help:      "Records handled by the last sweep",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_sweep_duration_seconds",
				Help:      "Refresh sweep duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		LastSweepTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_sweep_last_timestamp_seconds",
				Help:      "Unix time the last sweep finished",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route", "method"},
		),
	}

	registry.MustRegister(
		m.RefreshTotal,
		m.RefreshDuration,
		m.SweepsTotal,
		m.SweepErrorsTotal,
		m.SweepRecords,
		m.SweepDuration,
		m.LastSweepTimestamp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(platform domain.Platform, outcome string, duration time.Duration) {
	m.RefreshTotal.WithLabelValues(string(platform), outcome).Inc()
	m.RefreshDuration.WithLabelValues(string(platform)).Observe(duration.Seconds())
}

// ObserveSweep records a finished sweep.
func (m *Metrics) ObserveSweep(summary *domain.SweepSummary) {
	m.SweepsTotal.Inc()
	m.SweepRecords.WithLabelValues("selected").Set(float64(summary.Selected))
	m.SweepRecords.WithLabelValues("succeeded").Set(float64(summary.Succeeded))
	m.SweepRecords.WithLabelValues("failed").Set(float64(summary.Failed))
	m.SweepRecords.WithLabelValues("skipped").Set(float64(summary.Skipped))
	m.SweepDuration.Observe(summary.Duration().Seconds())
	m.LastSweepTimestamp.Set(float64(summary.FinishedAt.Unix()))
}

// ObserveSweepError records a failed sweep.
func (m *Metrics) ObserveSweepError() {
	m.SweepErrorsTotal.Inc()
}

// ObserveHTTPRequest records one API request. route is the mux pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(route, method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
