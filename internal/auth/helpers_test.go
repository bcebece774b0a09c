package auth

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway counts provider calls. Unset funcs succeed with fixed credentials.
type fakeGateway struct {
	clock *fakeClock

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	revokeCalls   atomic.Int32

	exchangeFn func(ctx context.Context, code string) (*Credential, error)
	refreshFn  func(ctx context.Context, cred *Credential) (*Credential, error)
	identity   string
}

func (g *fakeGateway) AuthCodeURL(state string, scopes []string) string {
	q := url.Values{"state": {state}}
	for _, s := range scopes {
		q.Add("scope", s)
	}
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (g *fakeGateway) Exchange(ctx context.Context, code string) (*Credential, error) {
	g.exchangeCalls.Add(1)
	if g.exchangeFn != nil {
		return g.exchangeFn(ctx, code)
	}
	return &Credential{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		ExpiresAt:    g.clock.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	g.refreshCalls.Add(1)
	if g.refreshFn != nil {
		return g.refreshFn(ctx, cred)
	}
	return &Credential{
		AccessToken: "refreshed",
		TokenType:   "Bearer",
		ExpiresAt:   g.clock.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) UserIdentity(context.Context, *Credential) (string, error) {
	return g.identity, nil
}

func (g *fakeGateway) Revoke(context.Context, *Credential) error {
	g.revokeCalls.Add(1)
	return nil
}

type testEnv struct {
	clock    *fakeClock
	gateway  *fakeGateway
	store    *MemoryStore
	pending  *MemoryPendingStore
	registry *Registry
	flow     *Flow
	broker   *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	gw := &fakeGateway{clock: clock, identity: "jane@example.com"}
	store := NewMemoryStore(nil)
	pending := NewMemoryPendingStore(nil, 0)
	broker := events.NewBroker()

	registry := NewRegistry(store, gw, RegistryConfig{
		SessionExpiry: time.Hour,
		RefreshSkew:   time.Minute,
		RetryBackoff:  time.Millisecond,
		Now:           clock.Now,
	})
	flow := NewFlow(registry, pending, gw, FlowConfig{
		Scopes:       []string{"openid", "https://www.googleapis.com/auth/calendar"},
		RetryBackoff: time.Millisecond,
		Events:       broker,
		Now:          clock.Now,
	})

	t.Cleanup(func() {
		registry.Close()
		_ = pending.Close()
		broker.Close()
	})

	return &testEnv{
		clock:    clock,
		gateway:  gw,
		store:    store,
		pending:  pending,
		registry: registry,
		flow:     flow,
		broker:   broker,
	}
}

// authenticate creates a session and binds a credential expiring at expiresAt.
func (e *testEnv) authenticate(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	ctx := context.Background()
	id, err := e.registry.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, e.registry.BindIdentity(ctx, id, "jane@example.com", &Credential{
		AccessToken:  "initial",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
	}))
	return id
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
