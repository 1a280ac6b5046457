package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/controller"
	"github.com/example/portscanner/internal/events"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.Open(":memory:", logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier, err := events.Connect("", logger.NewTestLogger())
	require.NoError(t, err)

	ctrl := controller.New(store, logger.NewTestLogger(), notifier)

	return New(store, ctrl, logger.NewTestLogger())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScanStartRejectsMissingPorts(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan/start", strings.NewReader(`{"start_ip":"127.0.0.1"}`))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResultsEmptyStoreReturnsEmptyList(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestScanStopWithoutRunningScanConflicts(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan/stop", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
