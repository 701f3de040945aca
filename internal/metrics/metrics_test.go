package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestQueriesCounter(t *testing.T) {
	before := testutil.ToFloat64(Queries.WithLabelValues("mock", "ok"))
	Queries.WithLabelValues("mock", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Queries.WithLabelValues("mock", "ok")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Register()
	HTTPRequests.WithLabelValues("/api/health", http.MethodGet, "200").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cris_query_http_requests_total")
}
