package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/google"
)

type fakeGateway struct {
	revoked atomic.Int32
}

func (g *fakeGateway) AuthCodeURL(state string, scopes []string) string {
	q := url.Values{"state": {state}, "scope": {strings.Join(scopes, " ")}}
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (g *fakeGateway) Exchange(_ context.Context, code string) (*auth.Credential, error) {
	return &auth.Credential{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) Refresh(_ context.Context, cred *auth.Credential) (*auth.Credential, error) {
	next := cred.Clone()
	next.ExpiresAt = time.Now().Add(time.Hour)
	return next, nil
}

func (g *fakeGateway) UserIdentity(context.Context, *auth.Credential) (string, error) {
	return "user@example.com", nil
}

func (g *fakeGateway) Revoke(context.Context, *auth.Credential) error {
	g.revoked.Add(1)
	return nil
}

type testEnv struct {
	sc      *ServerContext
	gateway *fakeGateway
	auth    *AuthHandler
	server  *httptest.Server
}

func newTestEnv(t *testing.T, cfg AuthHandlerConfig) *testEnv {
	t.Helper()

	gw := &fakeGateway{}
	broker := events.NewBroker()
	pending := auth.NewMemoryPendingStore(nil, 0)
	registry := auth.NewRegistry(auth.NewMemoryStore(nil), gw, auth.RegistryConfig{})
	flow := auth.NewFlow(registry, pending, gw, auth.FlowConfig{
		Scopes: google.DefaultOAuthScopes,
		Events: broker,
	})

	sc, err := NewServerContext(context.Background(), Config{
		Registry: registry,
		Flow:     flow,
		Events:   broker,
	})
	require.NoError(t, err)

	h := NewAuthHandler(sc, cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		h.Close()
		broker.Close()
		_ = sc.Shutdown()
		registry.Close()
		_ = pending.Close()
	})
	return &testEnv{sc: sc, gateway: gw, auth: h, server: srv}
}

// noRedirect returns a client that reports redirects instead of following them.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// stateFromURL extracts the state parameter of an authorization URL.
func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// authenticate runs a full start + callback round trip and returns the session id.
func (e *testEnv) authenticate(t *testing.T, sessionID string) string {
	t.Helper()
	ctx := context.Background()
	start, err := e.sc.Flow().Start(ctx, sessionID)
	require.NoError(t, err)
	_, err = e.sc.Flow().Callback(ctx, auth.CallbackParams{
		State: stateFromURL(t, start.AuthorizationURL),
		Code:  "code",
	})
	require.NoError(t, err)
	return start.SessionID
}
