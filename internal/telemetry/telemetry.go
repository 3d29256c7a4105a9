// Package telemetry owns the Prometheus collectors for sync runs, provider
// calls and currency conversion.
//
// All methods are nil-safe so packages can be used without metrics in tests.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors the server exposes on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns         *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	syncItems        *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	fxSource         *prometheus.CounterVec
	unknownCurrency  *prometheus.CounterVec
	clamped          *prometheus.CounterVec
}

// New registers every collector on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Sync runs by final status.",
		}, []string{"status"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Wall time of sync runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Items written by sync runs, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound provider API requests by provider and HTTP status class.",
		}, []string{"provider", "code"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_rate_limited_total",
			Help: "Provider responses recognised as rate limiting.",
		}, []string{"provider"}),
		fxSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fx_rates_loaded_total",
			Help: "FX snapshots by source (live, cache, static).",
		}, []string{"source"}),
		unknownCurrency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fx_unknown_currency_total",
			Help: "Conversions that fell back to 1:1 because the currency was unknown.",
		}, []string{"code"}),
		clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_clamped_total",
			Help: "Non-finite computed values replaced with 0.",
		}, []string{"field"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncRuns, m.syncDuration, m.syncItems,
		m.providerRequests, m.rateLimited,
		m.fxSource, m.unknownCurrency, m.clamped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SyncFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(status).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) SyncItems(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncItems.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *Metrics) ProviderRequest(provider string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = fmt.Sprintf("%dxx", status/100)
	}
	m.providerRequests.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) RateLimited(provider string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(provider).Inc()
}

func (m *Metrics) FXLoaded(source string) {
	if m == nil {
		return
	}
	m.fxSource.WithLabelValues(source).Inc()
}

func (m *Metrics) UnknownCurrency(code string) {
	if m == nil {
		return
	}
	m.unknownCurrency.WithLabelValues(code).Inc()
}

func (m *Metrics) Clamped(fields ...string) {
	if m == nil {
		return
	}
	for _, f := range fields {
		m.clamped.WithLabelValues(f).Inc()
	}
}
