package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/logging"
)

func getJSON(t *testing.T, rawURL string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAuthStart_NewSession(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var body StartResponse
	resp := getJSON(t, env.server.URL+PathAuthStart, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, body.SessionID)
	assert.Contains(t, body.AuthorizationURL, "state=")
}

func TestAuthStart_CallerChosenID(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var body StartResponse
	resp := getJSON(t, env.server.URL+PathAuthStart+"?session_id=desktop-1", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "desktop-1", body.SessionID)
}

func TestAuthStart_InvalidID(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var body ErrorResponse
	resp := getJSON(t, env.server.URL+PathAuthStart+"?session_id="+url.QueryEscape("bad id!"), &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(auth.KindValidation), body.Error)
}

func TestAuthStart_RateLimited(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		resp := getJSON(t, env.server.URL+PathAuthStart, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var body ErrorResponse
	resp := getJSON(t, env.server.URL+PathAuthStart, &body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", body.Error)

	// Other routes are not limited.
	resp = getJSON(t, env.server.URL+PathAuthStatus+"?session_id=unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthCallback_Success(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var start StartResponse
	getJSON(t, env.server.URL+PathAuthStart, &start)

	q := url.Values{"state": {stateFromURL(t, start.AuthorizationURL)}, "code": {"abc"}}
	resp, err := noRedirect().Get(env.server.URL + PathAuthCallback + "?" + q.Encode())
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, PathAuthResult+"?status=success", resp.Header.Get("Location"))

	var status StatusResponse
	resp = getJSON(t, env.server.URL+PathAuthStatus+"?session_id="+start.SessionID, &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Authenticated)
	assert.Equal(t, auth.SessionAuthenticated, status.State)
	assert.NotEmpty(t, status.Scopes)
	assert.False(t, status.CreatedAt.IsZero())
}

func TestAuthCallback_Failures(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var start StartResponse
	getJSON(t, env.server.URL+PathAuthStart, &start)
	state := stateFromURL(t, start.AuthorizationURL)

	callback := func(q url.Values) url.Values {
		t.Helper()
		resp, err := noRedirect().Get(env.server.URL + PathAuthCallback + "?" + q.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, PathAuthResult, loc.Path)
		return loc.Query()
	}

	got := callback(url.Values{"state": {state}, "error": {"access_denied"}})
	assert.Equal(t, "error", got.Get("status"))
	assert.Contains(t, got.Get("reason"), "authorization denied")

	// The state was consumed by the failed attempt.
	got = callback(url.Values{"state": {state}, "code": {"abc"}})
	assert.Equal(t, "error", got.Get("status"))
	assert.Equal(t, "unknown or expired state", got.Get("reason"))

	got = callback(url.Values{"code": {"abc"}})
	assert.Equal(t, "error", got.Get("status"))

	var status StatusResponse
	getJSON(t, env.server.URL+PathAuthStatus+"?session_id="+start.SessionID, &status)
	assert.False(t, status.Authenticated)
	assert.Contains(t, status.LastError, "authorization denied")
}

func TestAuthCallback_FailureLogsOwningSession(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	var logs bytes.Buffer
	env.auth.logger = slog.New(slog.NewJSONHandler(&logs, nil))

	start, err := env.sc.Flow().Start(context.Background(), "desktop-1")
	require.NoError(t, err)

	q := url.Values{"state": {stateFromURL(t, start.AuthorizationURL)}, "error": {"access_denied"}}
	resp, err := noRedirect().Get(env.server.URL + PathAuthCallback + "?" + q.Encode())
	require.NoError(t, err)
	_ = resp.Body.Close()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "Authorization callback failed", entry["msg"])
	assert.Equal(t, logging.HashSessionID("desktop-1"), entry[logging.KeySession])
	assert.Equal(t, string(auth.KindAuthorization), entry[logging.KeyErrorKind])
}

func TestAuthResult(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	resp, err := http.Get(env.server.URL + PathAuthResult + "?status=success")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "Authentication successful")

	q := url.Values{"status": {"error"}, "reason": {"<script>alert(1)</script>"}}
	resp, err = http.Get(env.server.URL + PathAuthResult + "?" + q.Encode())
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Authentication failed")
	assert.Contains(t, string(body), "&lt;script&gt;")
	assert.NotContains(t, string(body), "<script>")
}

func TestAuthStatus_Errors(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var body ErrorResponse
	resp := getJSON(t, env.server.URL+PathAuthStatus+"?session_id=unknown", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(auth.KindNotFound), body.Error)

	resp = getJSON(t, env.server.URL+PathAuthStatus, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(auth.KindValidation), body.Error)
}

func TestAuthRevoke(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	id := env.authenticate(t, "laptop")

	resp, err := http.Get(env.server.URL + PathAuthRevoke + "?session_id=" + id)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(env.server.URL+PathAuthRevoke+"?session_id="+id, "", strings.NewReader(""))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(1), env.gateway.revoked.Load())

	var status StatusResponse
	getJSON(t, env.server.URL+PathAuthStatus+"?session_id="+id, &status)
	assert.False(t, status.Authenticated)
	assert.Equal(t, auth.SessionExpired, status.State)

	resp, err = http.Post(env.server.URL+PathAuthRevoke+"?session_id=missing", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthStart_ExpiredSessionGetsFreshURL(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	id := env.authenticate(t, "old-session")
	require.NoError(t, env.sc.Registry().Revoke(t.Context(), id))

	var body ErrorResponse
	resp := getJSON(t, env.server.URL+PathAuthStart+"?session_id="+id, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(auth.KindAuthentication), body.Error)
	assert.Contains(t, body.AuthURL, "state=")
}
