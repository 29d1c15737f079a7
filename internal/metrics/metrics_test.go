package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/eventgate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsIngested_Increments(t *testing.T) {
	c := metrics.EventsIngested.WithLabelValues("http", metrics.ResultStored)
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	metrics.RateLimitDecisions.WithLabelValues("read", "admitted").Inc()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eventgate_ratelimit_decisions_total")
}
