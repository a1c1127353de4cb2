package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FlightStarted("reference")
		m.FlightFinished("reference")
		m.FlightJoined("reference")
		m.CacheResolved("hit")
		m.ReferenceFetched("ok")
		m.InteractionRecorded("button_click")
		m.Redirected("redirect")
	})
	assert.Nil(t, m.Registry())
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := New()
	b := New()

	a.CacheResolved("hit")
	a.CacheResolved("hit")
	b.CacheResolved("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.CacheResolutions.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.CacheResolutions.WithLabelValues("hit")))
}

func TestHandlerExposesEngineMetrics(t *testing.T) {
	m := New()
	m.FlightJoined("session")

	handler := m.RequestTrackingMiddleware(m.Handler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `etat_flight_shared_total{kind="session"} 1`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "200")))
}
