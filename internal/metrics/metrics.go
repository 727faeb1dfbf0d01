// Package metrics exposes Prometheus counters for DCN uploads, review
// transitions and attempt captures. A nil *Metrics is a valid no-op.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	rows              *prometheus.CounterVec
	batches           *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	reviewTransitions *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	gpsFailures       prometheus.Counter
	gatherer          prometheus.Gatherer
}

// New builds the collectors and registers them on reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serveroute_dcn_rows_total",
			Help: "Uploaded DCN rows by resulting status.",
		}, []string{"status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serveroute_dcn_batches_total",
			Help: "DCN upload batches by final status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "serveroute_dcn_batch_duration_seconds",
			Help:    "Wall time to process one DCN upload.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		reviewTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serveroute_dcn_review_transitions_total",
			Help: "Reviewer-driven DCN status transitions.",
		}, []string{"from", "to"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serveroute_attempts_total",
			Help: "Attempt lifecycle events.",
		}, []string{"event"}),
		gpsFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serveroute_attempt_gps_failures_total",
			Help: "Captures that proceeded without a GPS fix.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.rows, m.batches, m.batchDuration, m.reviewTransitions, m.attempts, m.gpsFailures)
	return m
}

// RowProcessed counts one row outcome (a match status or "invalid").
func (m *Metrics) RowProcessed(status string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(status).Inc()
}

// BatchFinished records a batch outcome and its duration.
func (m *Metrics) BatchFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// ReviewTransition counts a confirm or reject.
func (m *Metrics) ReviewTransition(from, to string) {
	if m == nil {
		return
	}
	m.reviewTransitions.WithLabelValues(from, to).Inc()
}

// Attempt counts an attempt lifecycle event (created, extended, finalized,
// manual).
func (m *Metrics) Attempt(event string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(event).Inc()
}

// GPSFailure counts a capture without coordinates.
func (m *Metrics) GPSFailure() {
	if m == nil {
		return
	}
	m.gpsFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
