package metrics

import (
	"net/http"

	"gcodesync/internal/status"
	"gcodesync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gcodesync"

// Metrics holds the sync collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	cycles      *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	downloads   *prometheus.CounterVec
	ordersSeen  prometheus.Gauge
	lastSuccess prometheus.Gauge
}

var _ syncer.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sync cycles by outcome.",
		}, []string{"outcome"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Order list fetch failures by kind.",
		}, []string{"kind"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Order file downloads by outcome.",
		}, []string{"outcome"}),
		ordersSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders_seen",
			Help:      "Orders returned by the last successful fetch.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that fetched the order list.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.fetchErrors, m.downloads, m.ordersSeen, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CycleCompleted updates the collectors from r.
func (m *Metrics) CycleCompleted(r syncer.Result) {
	switch r.Status {
	case status.OK:
		m.cycles.WithLabelValues("ok").Inc()
		m.ordersSeen.Set(float64(r.Orders))
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	case status.Error:
		m.cycles.WithLabelValues("error").Inc()
		kind := r.FetchKind
		if kind == "" {
			kind = "unknown"
		}
		m.fetchErrors.WithLabelValues(kind).Inc()
	default:
		return
	}
	if n := r.Count(syncer.OutcomeDownloaded); n > 0 {
		m.downloads.WithLabelValues("ok").Add(float64(n))
	}
	if n := r.Count(syncer.OutcomeFailed); n > 0 {
		m.downloads.WithLabelValues("error").Add(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
