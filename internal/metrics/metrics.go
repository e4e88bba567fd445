// Package metrics provides Prometheus metrics for the intake engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	IntakeRequestsTotal *prometheus.CounterVec
	LLMCallsTotal       *prometheus.CounterVec
	LLMRetriesTotal     *prometheus.CounterVec
	RejectedCandidates  *prometheus.CounterVec
	IntakesCompleted    *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		IntakeRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_requests_total",
				Help: "Total intake API requests by operation and status.",
			},
			[]string{"operation", "status"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_llm_calls_total",
				Help: "Completion endpoint calls by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		LLMRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_llm_retries_total",
				Help: "Completion calls that were retries within an attempt budget.",
			},
			[]string{"action"},
		),
		RejectedCandidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_rejected_candidates_total",
				Help: "Candidate assistant messages rejected by the quality heuristics.",
			},
			[]string{"action"},
		),
		IntakesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_completed_total",
				Help: "Intake cycles finished, by completion mode.",
			},
			[]string{"mode"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_request_duration_seconds",
				Help:    "Intake API request duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		registry: reg,
	}

	reg.MustRegister(m.IntakeRequestsTotal)
	reg.MustRegister(m.LLMCallsTotal)
	reg.MustRegister(m.LLMRetriesTotal)
	reg.MustRegister(m.RejectedCandidates)
	reg.MustRegister(m.IntakesCompleted)
	reg.MustRegister(m.RequestDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the intake request counter.
func (m *Metrics) RecordRequest(operation, status string) {
	m.IntakeRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordLLMCall increments the completion-call counter.
func (m *Metrics) RecordLLMCall(action, outcome string) {
	m.LLMCallsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordLLMRetry increments the retry counter.
func (m *Metrics) RecordLLMRetry(action string) {
	m.LLMRetriesTotal.WithLabelValues(action).Inc()
}

// RecordRejectedCandidate increments the heuristic-rejection counter.
func (m *Metrics) RecordRejectedCandidate(action string) {
	m.RejectedCandidates.WithLabelValues(action).Inc()
}

// RecordCompletion increments the completed-intake counter.
func (m *Metrics) RecordCompletion(mode string) {
	m.IntakesCompleted.WithLabelValues(mode).Inc()
}

// ObserveDuration records a request duration in seconds.
func (m *Metrics) ObserveDuration(operation string, seconds float64) {
	m.RequestDuration.WithLabelValues(operation).Observe(seconds)
}
