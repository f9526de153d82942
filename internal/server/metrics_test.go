package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/labelscan/internal/session"
)

func TestSessionMetrics(t *testing.T) {
	m := &SessionMetrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sessions_total"}, []string{"outcome"}),
		phases:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_phase_seconds"}, []string{"phase"}),
		crops:    prometheus.NewCounter(prometheus.CounterOpts{Name: "test_crop_failures_total"}),
	}

	m.SessionFinished(session.OutcomeCompleted)
	m.SessionFinished(session.OutcomeCompleted)
	m.SessionFinished(session.OutcomeCancelled)
	m.CropFailed()
	m.ObservePhase(session.PhaseDetectingText, 250*time.Millisecond)

	assert.InDelta(t, 2.0, promtest.ToFloat64(m.sessions.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.sessions.WithLabelValues("cancelled")), 1e-9)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.crops), 1e-9)
	assert.Equal(t, 1, promtest.CollectAndCount(m.phases))
}

func TestSessionMetricsImplementsInterface(t *testing.T) {
	var _ session.Metrics = defaultSessionMetrics
}
