// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patternline/internal/domain"
)

const namespace = "patternline"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	validations        *prometheus.CounterVec
	validationDuration prometheus.Histogram
	validationIssues   *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	rejected           *prometheus.CounterVec
	submissions        prometheus.Counter
	notifyFailures     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation runs by report status.",
		}, []string{"status"}),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time spent running the validators for one submission.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation errors by validator and severity.",
		}, []string{"validator", "severity"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed workflow transitions.",
		}, []string{"from", "to"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_rejected_total",
			Help:      "Events refused in the submission's current status.",
		}, []string{"from", "event"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Accepted submissions.",
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.validations, m.validationDuration, m.validationIssues,
		m.transitions, m.rejected, m.submissions, m.notifyFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveValidation(report domain.ValidationReport, took time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(string(report.Status)).Inc()
	m.validationDuration.Observe(took.Seconds())
	for _, res := range []domain.ValidationResult{report.Schema, report.Scorecard, report.Diagram} {
		for _, e := range res.Errors {
			m.validationIssues.WithLabelValues(res.Type, string(e.Severity)).Inc()
		}
	}
}

func (m *Metrics) ObserveTransition(from, to domain.PublicationStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveRejected(from domain.PublicationStatus, event string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(from), event).Inc()
}

func (m *Metrics) ObserveSubmission() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

func (m *Metrics) ObserveNotifyFailure(kind string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
