package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New(nil)
	m.ObservePush("SUCCESS", 20*time.Millisecond)
	m.ObservePush("SUCCESS", 30*time.Millisecond)
	m.ObservePush("GONE", time.Millisecond)
	m.ObserveNotice("critical")
	m.SetStreamClients(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PushTotal.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushTotal.WithLabelValues("GONE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoticesTotal.WithLabelValues("critical")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StreamClients))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.ObserveNotice("info")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `webpush_relay_notices_total{severity="info"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePush("FAILED", time.Second)
	m.ObserveNotice("info")
	m.SetStreamClients(1)
}
