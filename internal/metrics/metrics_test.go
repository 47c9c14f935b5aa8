package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("timer", "users", "success", time.Second)
	m.ObserveRun("timer", "users", "success", time.Second)
	m.ObserveRun("sweep", "users", "error", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("timer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sweep", "error")))
}

func TestObserveSweepAndArmed(t *testing.T) {
	m := New()
	m.ObserveSweep(3)
	m.ObserveSweep(1)
	m.SetArmed(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepDue))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.armed))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("manual", "users", "success", time.Millisecond)
		m.ObserveSweep(2)
		m.SetArmed(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetArmed(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tfd_reports_armed_timers 2"))
}
