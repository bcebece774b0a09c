package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/logging"
)

func seedSessions(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	registry, closeFn, err := openRegistry(ctx, sessionsConfig{
		Store:         storeSettings{TokenStoreType: "file", TokenStoreFile: path},
		SessionExpiry: time.Hour,
	}, nil)
	require.NoError(t, err)
	defer closeFn()

	_, err = registry.EnsureSession(ctx, "desktop-1")
	require.NoError(t, err)
	_, err = registry.EnsureSession(ctx, "laptop-2")
	require.NoError(t, err)
	require.NoError(t, registry.BindIdentity(ctx, "laptop-2", "alice@example.com", &auth.Credential{
		AccessToken: "access",
		ExpiresAt:   time.Now().Add(time.Hour),
		Scopes:      []string{"openid"},
	}))
}

func runSessionsCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TOKEN_STORE_TYPE", "")
	t.Setenv("TOKEN_STORE_FILE", "")

	cmd := newSessionsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadSessionsConfig_RejectsMemoryStore(t *testing.T) {
	t.Setenv("TOKEN_STORE_TYPE", "")

	_, err := loadSessionsConfig(noFlagsChanged, sessionsConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory store")
}

func TestLoadSessionsConfig_File(t *testing.T) {
	t.Setenv("TOKEN_STORE_TYPE", "file")
	t.Setenv("TOKEN_STORE_FILE", "/tmp/sessions.json")

	cfg, err := loadSessionsConfig(noFlagsChanged, sessionsConfig{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sessions.json", cfg.Store.TokenStoreFile)
	assert.Equal(t, time.Hour, cfg.SessionExpiry)
}

func TestSessionsList_Table(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	seedSessions(t, path)

	out, err := runSessionsCmd(t, "list", "--token-store-type", "file", "--token-store-file", path)
	require.NoError(t, err)

	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "LAST USED")
	assert.Contains(t, out, "desktop-1")
	assert.Contains(t, out, "laptop-2")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, logging.AnonymizeEmail("alice@example.com"))
	assert.NotContains(t, out, "alice@example.com")
}

func TestSessionsList_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	seedSessions(t, path)

	out, err := runSessionsCmd(t, "list", "--json", "--token-store-type", "file", "--token-store-file", path)
	require.NoError(t, err)

	var views []sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)

	states := map[string]auth.SessionState{}
	for _, v := range views {
		states[v.ID] = v.State
	}
	assert.Equal(t, auth.SessionPending, states["desktop-1"])
	assert.Equal(t, auth.SessionAuthenticated, states["laptop-2"])
}

func TestSessionsList_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	out, err := runSessionsCmd(t, "list", "--token-store-type", "file", "--token-store-file", path)
	require.NoError(t, err)
	assert.Equal(t, "No sessions found.\n", out)
}

func TestSessionsRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	seedSessions(t, path)

	out, err := runSessionsCmd(t, "revoke", "desktop-1", "--token-store-type", "file", "--token-store-file", path)
	require.NoError(t, err)
	assert.Equal(t, "Session desktop-1 revoked\n", out)

	out, err = runSessionsCmd(t, "list", "--json", "--token-store-type", "file", "--token-store-file", path)
	require.NoError(t, err)
	var views []sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	for _, v := range views {
		if v.ID == "desktop-1" {
			assert.Equal(t, auth.SessionExpired, v.State)
		}
	}
}

func TestSessionsPurge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	seedSessions(t, path)

	out, err := runSessionsCmd(t, "purge", "--token-store-type", "file", "--token-store-file", path, "--session-expiry", "1ns")
	require.NoError(t, err)
	assert.Equal(t, "Expired 2 idle session(s)\n", out)
}
