// Package metrics exposes Prometheus instrumentation for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/starford/tubestack/internal/reconcile"
)

// Run statuses used as the status label of tubestack_runs_total.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusDryRun = "dry_run"
)

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests do not collide on global state.
type Metrics struct {
	reg *prometheus.Registry

	Pages        *prometheus.CounterVec
	Chapters     *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	BreakerState prometheus.Gauge
	LastSuccess  prometheus.Gauge
	PurgeFailed  prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestack_pages_total",
			Help: "Wiki pages handled, by result",
		}, []string{"result"}), // created, skipped, failed, deleted
		Chapters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestack_chapters_total",
			Help: "Wiki chapters handled, by result",
		}, []string{"result"}), // created, reused, failed, deleted
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tubestack_runs_total",
			Help: "Sync runs, by final status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubestack_run_duration_seconds",
			Help:    "Wall time of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "tubestack_wiki_breaker_state",
			Help: "Wiki client circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "tubestack_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without error",
		}),
		PurgeFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "tubestack_purge_failures_total",
			Help: "Recycle bin purge script failures",
		}),
	}
}

// ObserveEvent counts one reconcile event. Planned events of dry runs are
// not counted.
func (m *Metrics) ObserveEvent(e reconcile.Event) {
	if e.Planned {
		return
	}
	switch e.Kind {
	case reconcile.EventPageCreated:
		m.Pages.WithLabelValues("created").Inc()
	case reconcile.EventPageSkipped:
		m.Pages.WithLabelValues("skipped").Inc()
	case reconcile.EventPageFailed:
		m.Pages.WithLabelValues("failed").Inc()
	case reconcile.EventPageDeleted:
		m.Pages.WithLabelValues("deleted").Inc()
	case reconcile.EventChapterCreated:
		m.Chapters.WithLabelValues("created").Inc()
	case reconcile.EventChapterReused:
		m.Chapters.WithLabelValues("reused").Inc()
	case reconcile.EventChapterFailed:
		m.Chapters.WithLabelValues("failed").Inc()
	case reconcile.EventChapterDeleted:
		m.Chapters.WithLabelValues("deleted").Inc()
	}
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(status string, d time.Duration, finishedAt time.Time) {
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	if status == StatusOK {
		m.LastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// SetBreakerState mirrors the wiki client's breaker state.
func (m *Metrics) SetBreakerState(s gobreaker.State) {
	m.BreakerState.Set(float64(s))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
