// Package toolstest provides a wired ServerContext backed by in-memory stores
// and a fake OAuth provider for tool handler tests.
package toolstest

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/calendar"
	"github.com/teemow/calendarmcp/internal/gmail"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/server"
)

// AuthBaseURL prefixes every authorization URL the fake gateway builds.
const AuthBaseURL = "https://accounts.example.com/o/oauth2/auth"

// Gateway is an auth.Gateway that never leaves the process.
type Gateway struct {
	Revoked atomic.Int32
}

func (g *Gateway) AuthCodeURL(state string, scopes []string) string {
	q := url.Values{"state": {state}, "scope": {strings.Join(scopes, " ")}}
	return AuthBaseURL + "?" + q.Encode()
}

func (g *Gateway) Exchange(_ context.Context, code string) (*auth.Credential, error) {
	return &auth.Credential{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (g *Gateway) Refresh(_ context.Context, cred *auth.Credential) (*auth.Credential, error) {
	next := cred.Clone()
	next.AccessToken += "-refreshed"
	next.ExpiresAt = time.Now().Add(time.Hour)
	return next, nil
}

func (g *Gateway) UserIdentity(context.Context, *auth.Credential) (string, error) {
	return "user@example.com", nil
}

func (g *Gateway) Revoke(context.Context, *auth.Credential) error {
	g.Revoked.Add(1)
	return nil
}

// Options customize the ServerContext built by New.
type Options struct {
	// Endpoint points the Calendar and Gmail clients at a test server.
	Endpoint string
	ReadOnly bool

	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
}

// Env is a ServerContext with direct access to its collaborators.
type Env struct {
	SC       *server.ServerContext
	Registry *auth.Registry
	Gateway  *Gateway
}

// New builds an Env whose resources are released when t ends.
func New(t *testing.T, opts Options) *Env {
	t.Helper()

	gw := &Gateway{}
	store := auth.NewMemoryStore(nil)
	pending := auth.NewMemoryPendingStore(nil, 0)
	registry := auth.NewRegistry(store, gw, auth.RegistryConfig{RefreshSkew: auth.DefaultRefreshSkew})
	flow := auth.NewFlow(registry, pending, gw, auth.FlowConfig{Scopes: google.DefaultOAuthScopes})

	cfg := server.Config{
		Registry:        registry,
		Flow:            flow,
		DefaultTimeZone: "Europe/Berlin",
		ReadOnly:        opts.ReadOnly,
		Metrics:         opts.Metrics,
		AuditLogger:     opts.AuditLogger,
	}
	if opts.Endpoint != "" {
		cfg.CalendarOptions = []calendar.Option{calendar.WithEndpoint(opts.Endpoint)}
		cfg.GmailOptions = []gmail.Option{gmail.WithEndpoint(opts.Endpoint)}
	}

	sc, err := server.NewServerContext(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create server context: %v", err)
	}
	t.Cleanup(func() {
		_ = sc.Shutdown()
		registry.Close()
		_ = pending.Close()
	})

	return &Env{SC: sc, Registry: registry, Gateway: gw}
}

// Authenticate creates a session bound to user@example.com with scopes granted.
// With no scopes the default scopes are granted.
func (e *Env) Authenticate(t *testing.T, scopes ...string) string {
	t.Helper()
	if len(scopes) == 0 {
		scopes = google.DefaultOAuthScopes
	}

	ctx := context.Background()
	id, err := e.Registry.CreateSession(ctx)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	err = e.Registry.BindIdentity(ctx, id, "user@example.com", &auth.Credential{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       scopes,
	})
	if err != nil {
		t.Fatalf("failed to bind identity: %v", err)
	}
	return id
}

// Request builds a tool call request with args.
func Request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// Text concatenates the text content of result.
func Text(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
