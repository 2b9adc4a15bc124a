package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ApplicationsSubmitted prometheus.Counter
	StatusTransitions     *prometheus.CounterVec
	PaymentsResolved      *prometheus.CounterVec
	CertificatesIssued    prometheus.Counter
	CertificatesRevoked   prometheus.Counter
	RegistrationRetries   prometheus.Counter
	OutboxTasks           *prometheus.CounterVec
	ApprovalsResumed      prometheus.Counter
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ApplicationsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "coop_registry_applications_submitted_total",
			Help: "Total number of registration applications submitted",
		}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_registry_application_transitions_total",
			Help: "Application status transitions by target status",
		}, []string{"to"}),
		PaymentsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_registry_payments_resolved_total",
			Help: "Payments resolved by the gateway, by final status and source",
		}, []string{"status", "source"}),
		CertificatesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "coop_registry_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		CertificatesRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "coop_registry_certificates_revoked_total",
			Help: "Total number of certificates revoked",
		}),
		RegistrationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "coop_registry_registration_number_retries_total",
			Help: "Registration number allocations retried after a uniqueness collision",
		}),
		OutboxTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_registry_outbox_tasks_total",
			Help: "Outbox task executions by kind and result",
		}, []string{"kind", "result"}),
		ApprovalsResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "coop_registry_approvals_resumed_total",
			Help: "Stalled approval pipelines resumed",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coop_registry_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coop_registry_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) IncApplicationsSubmitted() {
	if m == nil {
		return
	}
	m.ApplicationsSubmitted.Inc()
}

func (m *Metrics) IncStatusTransition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncPaymentResolved(status, source string) {
	if m == nil {
		return
	}
	m.PaymentsResolved.WithLabelValues(status, source).Inc()
}

func (m *Metrics) IncCertificatesIssued() {
	if m == nil {
		return
	}
	m.CertificatesIssued.Inc()
}

func (m *Metrics) IncCertificatesRevoked() {
	if m == nil {
		return
	}
	m.CertificatesRevoked.Inc()
}

func (m *Metrics) IncRegistrationRetries() {
	if m == nil {
		return
	}
	m.RegistrationRetries.Inc()
}

func (m *Metrics) IncOutboxTask(kind, result string) {
	if m == nil {
		return
	}
	m.OutboxTasks.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncApprovalsResumed() {
	if m == nil {
		return
	}
	m.ApprovalsResumed.Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
