package health_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/health"
)

func TestReadinessDrainsOnShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	handler := health.Handler{Checker: stubChecker{}}

	code, body := ready(t, stubChecker{})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["db"])

	health.SetReady(false)
	code, body = ready(t, stubChecker{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", body["status"])

	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code, "liveness is unaffected while draining")
}
