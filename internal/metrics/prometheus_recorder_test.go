package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveRenderDuration("kitchen", 150*time.Millisecond)
	pr.IncRenderOutcome("kitchen", OutcomePublished)
	pr.IncTrigger("state_change")
	pr.IncRetry("kitchen")
	pr.IncRetryExhausted("kitchen")
	pr.AddDegradedWidgets("kitchen", 2)
	pr.SetInFlight(1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 7)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `dashrender_render_outcomes_total{dashboard="kitchen",outcome="published"} 1`))
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncTrigger("manual")
	pr.SetInFlight(3)
	pr.AddDegradedWidgets("x", 1)
}

func TestTestRecorderCounts(t *testing.T) {
	r := newTestRecorder()
	r.IncRenderOutcome("a", OutcomeSkipped)
	r.IncTrigger("stale")
	require.Equal(t, 1, r.outcomes[OutcomeSkipped])
	require.Equal(t, 1, r.triggers["stale"])
}
