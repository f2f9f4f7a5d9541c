// Package metrics exposes reconciliation counters for Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/scenekeeper/internal/engine"
)

const namespace = "scenekeeper"

// Metrics holds the collectors on a private registry, so tests can create
// as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	passes          *prometheus.CounterVec
	passDuration    prometheus.Histogram
	documentsUpdate prometheus.Counter
	documentFailure prometheus.Counter
	untracked       prometheus.Counter
	authFailures    *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of non-quiescent reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		documentsUpdate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_updated_total",
			Help:      "Scene documents rewritten by reconciliation.",
		}),
		documentFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_failures_total",
			Help:      "Per-document reconciliation failures.",
		}),
		untracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_untracked_total",
			Help:      "Documents whose thread the bot does not track.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected API token notices by call site.",
		}, []string{"op"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_pass_timestamp_seconds",
			Help:      "Unix time of the last pass that completed without error.",
		}),
	}

	m.registry.MustRegister(
		m.passes,
		m.passDuration,
		m.documentsUpdate,
		m.documentFailure,
		m.untracked,
		m.authFailures,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// PassFinished implements engine.Observer.
func (m *Metrics) PassFinished(ctx context.Context, r engine.PassResult) {
	m.passes.WithLabelValues(r.Trigger.Source.String(), r.Outcome()).Inc()
	if r.Quiescent {
		return
	}
	m.passDuration.Observe(r.Duration().Seconds())
	m.documentsUpdate.Add(float64(r.Updated))
	m.documentFailure.Add(float64(r.Failed))
	m.untracked.Add(float64(r.Untracked))
	if r.Err == nil {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// Notify implements engine.Notifier, counting auth notices. Other notices
// are ignored.
func (m *Metrics) Notify(n engine.Notice) {
	if n.Kind == engine.KindAuth {
		m.authFailures.WithLabelValues(n.Op).Inc()
	}
}

// TrackQueue exposes the length of the engine's trigger queue. Call it
// once per Metrics.
func (m *Metrics) TrackQueue(length func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Triggers waiting for the engine.",
	}, func() float64 { return float64(length()) }))
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
