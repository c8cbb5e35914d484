package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceTransitions(t *testing.T) {
	m := NewMetricsService()
	m.ObserveTransition("PENDING_REGION", "CONFIRMED", TransitionOutcomeApplied, 5*time.Millisecond)
	m.ObserveTransition("PENDING_REGION", "CONFIRMED", TransitionOutcomeRejected, time.Millisecond)
	m.AddWaitlistRepositions(3)
	m.AddWaitlistRepositions(0)
	m.RecordNotification(NotificationResultQueued)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionTotal.WithLabelValues("PENDING_REGION", "CONFIRMED", TransitionOutcomeApplied)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.waitlistRepositioned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationTotal.WithLabelValues(NotificationResultQueued)))

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(2), snapshot.TransitionsTotal)
	assert.Equal(t, uint64(1), snapshot.TransitionsRejected)
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPatch, "/api/v1/courses/:courseId/enrollments/:id/status", http.StatusOK, 10*time.Millisecond)
	m.ObserveTransition("WAITLIST", "CONFIRMED", TransitionOutcomeApplied, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), "enrollment_transition_duration_seconds")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveTransition("a", "b", TransitionOutcomeApplied, time.Millisecond)
	m.RecordNotification(NotificationResultFailed)
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
