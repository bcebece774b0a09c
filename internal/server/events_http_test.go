package server

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/auth"
)

func TestAuthEvents_StreamsCompletion(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	ctx := context.Background()

	start, err := env.sc.Flow().Start(ctx, "stream-1")
	require.NoError(t, err)

	resp, err := http.Get(env.server.URL + PathAuthEvents + "?session_id=stream-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	require.Eventually(t, func() bool {
		return env.sc.Events().Subscribers("stream-1") == 1
	}, time.Second, 10*time.Millisecond)

	_, err = env.sc.Flow().Callback(ctx, auth.CallbackParams{
		State: stateFromURL(t, start.AuthorizationURL),
		Code:  "code",
	})
	require.NoError(t, err)

	// The stream ends after auth_completed, so the whole body can be read.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: auth_completed\n")
	assert.Contains(t, string(body), `"session_id":"stream-1"`)

	require.Eventually(t, func() bool {
		return env.sc.Events().Subscribers("stream-1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestAuthEvents_FailureKeepsStreamOpen(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{KeepAlive: 20 * time.Millisecond})
	ctx := context.Background()

	start, err := env.sc.Flow().Start(ctx, "stream-2")
	require.NoError(t, err)

	// The deadline bounds the read loop below.
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, env.server.URL+PathAuthEvents+"?session_id=stream-2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = env.sc.Flow().Callback(ctx, auth.CallbackParams{
		State: stateFromURL(t, start.AuthorizationURL),
		Error: "access_denied",
	})
	require.Error(t, err)

	var failed, keepAlive bool
	var data string
	reader := bufio.NewReader(resp.Body)
	for !failed || !keepAlive {
		line, err := reader.ReadString('\n')
		require.NoError(t, err, "stream ended before auth_failed and a keep-alive were seen")
		switch {
		case line == "event: auth_failed\n":
			failed = true
		case strings.HasPrefix(line, "data: "):
			data += line
		case line == ": keep-alive\n":
			keepAlive = true
		}
	}
	assert.Contains(t, data, "authorization denied")
}

func TestAuthEvents_AlreadyAuthenticated(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})
	id := env.authenticate(t, "stream-3")

	resp, err := http.Get(env.server.URL + PathAuthEvents + "?session_id=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: auth_completed\n")
}

func TestAuthEvents_Errors(t *testing.T) {
	env := newTestEnv(t, AuthHandlerConfig{})

	var body ErrorResponse
	resp := getJSON(t, env.server.URL+PathAuthEvents+"?session_id=unknown", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(auth.KindNotFound), body.Error)
	assert.Equal(t, 0, env.sc.Events().Subscribers("unknown"))

	resp = getJSON(t, env.server.URL+PathAuthEvents, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
