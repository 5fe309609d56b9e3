package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	units          *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	commitAttempts *prometheus.CounterVec
	commitDuration prometheus.Histogram
	pendingReviews prometheus.Gauge
	droppedEvents  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geargraph",
			Name:      "units_total",
			Help:      "Units of work by terminal state.",
		}, []string{"state"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geargraph",
			Name:      "candidates_total",
			Help:      "Candidates processed by outcome.",
		}, []string{"outcome"}),
		commitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geargraph",
			Name:      "commit_attempts_total",
			Help:      "Graph transaction attempts by operation and result.",
		}, []string{"op", "result"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geargraph",
			Name:      "commit_duration_seconds",
			Help:      "Wall time of a commit including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		pendingReviews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geargraph",
			Name:      "pending_reviews",
			Help:      "Review items awaiting a decision.",
		}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geargraph",
			Name:      "dropped_events_total",
			Help:      "Progress events not delivered to a sink because its buffer was full.",
		}, []string{"sink"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geargraph",
			Name:      "queue_depth",
			Help:      "Units waiting for a worker.",
		}),
	}
	m.registry.MustRegister(
		m.units, m.candidates, m.commitAttempts, m.commitDuration,
		m.pendingReviews, m.droppedEvents, m.queueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) UnitFinished(state string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(state).Inc()
}

func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CommitAttempt(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commitAttempts.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveCommit(seconds float64) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(seconds)
}

func (m *Metrics) SetPendingReviews(n int) {
	if m == nil {
		return
	}
	m.pendingReviews.Set(float64(n))
}

func (m *Metrics) EventDropped(sink string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(sink).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
