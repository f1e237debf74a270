package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics counts job lifecycle and ledger outcomes.
type BillingMetrics struct {
	jobsCreated        *prometheus.CounterVec
	jobsSettled        *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	credits            *prometheus.CounterVec
	rateLimited        prometheus.Counter
	invalidTransitions *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on reg. A nil registerer
// yields a no-op recorder.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	m := &BillingMetrics{
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Jobs accepted for dispatch.",
		}, []string{"type"}),
		jobsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_settled_total",
			Help: "Jobs reaching a terminal state.",
		}, []string{"status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund requests by result.",
		}, []string{"result"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_credits_total",
			Help: "Deposits and bonuses by kind and result.",
		}, []string{"kind", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Job submissions rejected by the rate gate.",
		}),
		invalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invalid_transitions_total",
			Help: "Rejected job state transitions.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.jobsCreated, m.jobsSettled, m.refunds, m.credits, m.rateLimited, m.invalidTransitions)
	return m
}

func (m *BillingMetrics) JobCreated(jobType string) {
	if m == nil || m.jobsCreated == nil {
		return
	}
	m.jobsCreated.WithLabelValues(normalizeLabel(jobType)).Inc()
}

func (m *BillingMetrics) JobSettled(status string) {
	if m == nil || m.jobsSettled == nil {
		return
	}
	m.jobsSettled.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *BillingMetrics) Refund(result string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *BillingMetrics) Credit(kind, result string) {
	if m == nil || m.credits == nil {
		return
	}
	m.credits.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *BillingMetrics) RateLimited() {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Inc()
}

// InvalidTransition records a rejected transition for the named operation.
func (m *BillingMetrics) InvalidTransition(operation string) {
	if m == nil || m.invalidTransitions == nil {
		return
	}
	m.invalidTransitions.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
