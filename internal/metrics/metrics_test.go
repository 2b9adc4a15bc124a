package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncApplicationsSubmitted()
	m.IncApplicationsSubmitted()
	m.IncStatusTransition("APPROVED")
	m.IncOutboxTask("email", "done")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ApplicationsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxTasks.WithLabelValues("email", "done")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncApplicationsSubmitted()
		m.IncCertificatesIssued()
		m.ObserveHTTPRequest("GET", "/health", "200", 0.01)
	})
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
