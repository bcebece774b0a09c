package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHealth(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.SetReady(false)

	code, body := serveHealth(t, h.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthChecker_Readiness(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	h := NewHealthChecker(env.sc)

	code, body := serveHealth(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"ready": "ok", "shutdown": "ok", "store": "ok"}, body["checks"])

	h.SetReady(false)
	assert.False(t, h.IsReady())
	code, body = serveHealth(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body["status"])
}

func TestHealthChecker_ReadinessDuringShutdown(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	h := NewHealthChecker(env.sc)
	require.NoError(t, env.sc.Shutdown())

	code, body := serveHealth(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "shutting down", body["checks"].(map[string]any)["shutdown"])
}

func TestHealthChecker_DetailedSessionCounts(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	env.authenticate(t, "detailed-1")
	_, err := env.sc.Flow().Start(context.Background(), "detailed-2")
	require.NoError(t, err)

	h := NewHealthChecker(env.sc)
	code, body := serveHealth(t, h.DetailedHealthHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{
		"total":         float64(2),
		"pending":       float64(1),
		"authenticated": float64(1),
		"expired":       float64(0),
	}, body["sessions"])
}
