// Package metrics holds the prometheus collectors for the capture pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ankisnap"

// Capture outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
)

type Metrics struct {
	captures       *prometheus.CounterVec
	guidedAdvances *prometheus.CounterVec
	ankiRequests   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Capture attempts by outcome (success, cancelled or an error kind).",
		}, []string{"outcome"}),
		guidedAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guided_advances_total",
			Help:      "Guided mode transitions by result (next, complete).",
		}, []string{"result"}),
		ankiRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anki_request_duration_seconds",
			Help:      "AnkiConnect request latency by action and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "status"}),
	}

	reg.MustRegister(m.captures, m.guidedAdvances, m.ankiRequests)
	return m
}

func (m *Metrics) CaptureOutcome(outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GuidedAdvance(result string) {
	if m == nil {
		return
	}
	m.guidedAdvances.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAnkiRequest(action string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ankiRequests.WithLabelValues(action, status).Observe(d.Seconds())
}
