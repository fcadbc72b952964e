package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"wa-blast/internal/metrics"
)

func testHandler(t *testing.T, basePath string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(":0", logger, metrics.Registry("test"), Dependencies{}, basePath)
	return srv.httpServer.Handler
}

func TestHealthz(t *testing.T) {
	h := testHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	h := testHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasePathMounting(t *testing.T) {
	h := testHandler(t, "/api")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSessionRejectsBadBody(t *testing.T) {
	h := testHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNormaliseBasePath(t *testing.T) {
	require.Equal(t, "", normaliseBasePath(""))
	require.Equal(t, "", normaliseBasePath("/"))
	require.Equal(t, "/api", normaliseBasePath("api/"))
	require.Equal(t, "/api", normaliseBasePath("/api"))
}
