package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/crisgenomics/cris-query/internal/handler"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

const validQuery = `{"selections": {"species": "mouse", "litigation_time": {"operator": ">", "value": "10"}}, "files_required": ["contacts.hic"]}`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, limiter *IPRateLimiter, trusted ...string) *gin.Engine {
	t.Helper()
	svc, err := handler.New(handler.Options{})
	require.NoError(t, err)
	r, err := New(Dependencies{Service: svc, Logger: logger.Nop(), RateLimiter: limiter, TrustedProxies: trusted})
	require.NoError(t, err)
	return r
}

func postFrom(r http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(validQuery))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t, nil)

	t.Run("home page", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "/api/query")
	})

	t.Run("plain health", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})

	t.Run("api health", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/api/health", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, handler.ServiceName, body["service"])
	})

	t.Run("metrics", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"success": false, "error": "Endpoint not found", "code": "NOT_FOUND"}`, w.Body.String())
	})
}

func TestQueryEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, path := range []string{"/api/query", "/api/query/"} {
		t.Run("mock query "+path, func(t *testing.T) {
			w := perform(r, http.MethodPost, path, validQuery)
			require.Equal(t, http.StatusOK, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, true, body["success"])
			assert.Equal(t,
				"SELECT * FROM cris_database.cris_table WHERE species = 'mouse' AND litigation_time > 10 LIMIT 100",
				body["sql_query"])
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		w := perform(r, http.MethodPost, "/api/query", `{"selections":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid JSON data")
	})

	t.Run("missing selections", func(t *testing.T) {
		w := perform(r, http.MethodPost, "/api/query", `{"files_required": ["a"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "No selections provided")
	})

	t.Run("bad operator", func(t *testing.T) {
		w := perform(r, http.MethodPost, "/api/query",
			`{"selections": {"litigation_time": {"operator": "; DROP", "value": "1"}}, "files_required": ["a"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := newTestRouter(t, nil)

	t.Run("generated", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/health", "")
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "req-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	})
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, nil)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
		req.Header.Set("Origin", "https://portal.example.org")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://portal.example.org")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestGzip(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, NewIPRateLimiter(rate.Limit(0.001), 1))

	first := perform(r, http.MethodPost, "/api/query", validQuery)
	assert.Equal(t, http.StatusOK, first.Code)

	second := perform(r, http.MethodPost, "/api/query", validQuery)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "Too many requests")

	// health checks are not limited
	health := perform(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestRateLimit_ForwardedFor(t *testing.T) {
	t.Run("ignored from untrusted peers", func(t *testing.T) {
		r := newTestRouter(t, NewIPRateLimiter(rate.Limit(0.001), 1))

		codes := make([]int, 0, 5)
		for i := 0; i < 5; i++ {
			codes = append(codes, postFrom(r, "203.0.113.7:4000", fmt.Sprintf("10.0.0.%d", i)))
		}
		assert.Equal(t, []int{200, 429, 429, 429, 429}, codes)
	})

	t.Run("honored from trusted proxy", func(t *testing.T) {
		r := newTestRouter(t, NewIPRateLimiter(rate.Limit(0.001), 1), "192.0.2.10")

		assert.Equal(t, http.StatusOK, postFrom(r, "192.0.2.10:4000", "198.51.100.1"))
		assert.Equal(t, http.StatusOK, postFrom(r, "192.0.2.10:4000", "198.51.100.2"))
		assert.Equal(t, http.StatusTooManyRequests, postFrom(r, "192.0.2.10:4000", "198.51.100.1"))
	})
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	svc, err := handler.New(handler.Options{})
	require.NoError(t, err)

	_, err = New(Dependencies{Service: svc, TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 2)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// buckets are per client
	assert.True(t, l.Allow("10.0.0.2"))
}
