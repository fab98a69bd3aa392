package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventguard/eventguard/internal/observability"
)

type stubMounter struct{ path string }

func (s stubMounter) MountRoutes(r chi.Router) {
	r.Get(s.path, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mounted"))
	})
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterHealthz(t *testing.T) {
	h := NewRouter(RouterParams{})
	rec := serve(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterOptionalRoutes(t *testing.T) {
	bare := NewRouter(RouterParams{})
	assert.Equal(t, http.StatusNotFound, serve(t, bare, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, bare, "/jobs/health").Code)

	full := NewRouter(RouterParams{
		Metrics:     observability.NewMetrics(),
		Jobs:        stubMounter{path: "/health"},
		Permissions: stubMounter{path: "/{event}/permissions"},
	})
	assert.Equal(t, "mounted", serve(t, full, "/jobs/health").Body.String())
	assert.Equal(t, "mounted", serve(t, full, "/events/7/permissions").Body.String())
	assert.Contains(t, serve(t, full, "/metrics").Body.String(), `eventguard_http_requests_total{code="200",route="/jobs/health"} 1`)
}

func TestRouterRateLimit(t *testing.T) {
	h := NewRouter(RouterParams{Config: &Config{Ops: OpsConfig{RateLimit: 2}}})
	assert.Equal(t, http.StatusOK, serve(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, h, "/healthz").Code)
}
