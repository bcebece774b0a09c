package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredential() *Credential {
	return &Credential{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Scopes:       []string{"https://www.googleapis.com/auth/calendar", "openid"},
		Version:      3,
	}
}

// storeContract runs the behavior every Store backend must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("credential round trip", func(t *testing.T) {
		cred := testCredential()
		require.NoError(t, store.Put(ctx, "s1", cred))

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, cred.AccessToken, got.AccessToken)
		assert.Equal(t, cred.RefreshToken, got.RefreshToken)
		assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, cred.Scopes, got.Scopes)
		assert.Equal(t, cred.Version, got.Version)

		// Put is idempotent.
		require.NoError(t, store.Put(ctx, "s1", cred))
	})

	t.Run("missing credential", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "s2", testCredential()))
		require.NoError(t, store.Invalidate(ctx, "s2"))
		require.NoError(t, store.Invalidate(ctx, "s2"))

		_, err := store.Get(ctx, "s2")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("sessions", func(t *testing.T) {
		created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.SaveSession(ctx, &Session{ID: "b", State: SessionPending, CreatedAt: created.Add(time.Minute)}))
		require.NoError(t, store.SaveSession(ctx, &Session{ID: "a", State: SessionAuthenticated, CreatedAt: created, UserIdentity: "jane@example.com"}))
		require.NoError(t, store.Put(ctx, "a", testCredential()))

		got, err := store.GetSession(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, SessionAuthenticated, got.State)
		assert.Equal(t, "jane@example.com", got.UserIdentity)

		list, err := store.ListSessions(ctx)
		require.NoError(t, err)
		var ids []string
		for _, s := range list {
			if s.ID == "a" || s.ID == "b" {
				ids = append(ids, s.ID)
			}
		}
		assert.Equal(t, []string{"a", "b"}, ids)

		require.NoError(t, store.DeleteSession(ctx, "a"))
		_, err = store.GetSession(ctx, "a")
		assert.True(t, IsKind(err, KindNotFound))
		_, err = store.Get(ctx, "a")
		assert.True(t, IsKind(err, KindNotFound), "deleting a session removes its credential")
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(nil))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	cred := testCredential()
	require.NoError(t, store.Put(ctx, "s1", cred))
	cred.Scopes[0] = "mutated"

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	got.AccessToken = "mutated"

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", again.AccessToken)
	assert.Equal(t, "https://www.googleapis.com/auth/calendar", again.Scopes[0])
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "sessions.json"), nil)
	require.NoError(t, err)
	storeContract(t, store)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	store, err := NewFileStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, &Session{ID: "s1", State: SessionAuthenticated, UserIdentity: "jane@example.com"}))
	require.NoError(t, store.Put(ctx, "s1", testCredential()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewFileStore(path, nil)
	require.NoError(t, err)

	session, err := reopened.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", session.UserIdentity)

	cred, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "1//refresh", cred.RefreshToken)
	assert.Equal(t, uint64(3), cred.Version)
}

func TestFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path, nil)
	assert.Error(t, err)
}

func TestCredential_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		skew      time.Duration
		want      bool
	}{
		{"valid", now.Add(time.Hour), time.Minute, false},
		{"within skew", now.Add(30 * time.Second), time.Minute, true},
		{"exactly at expiry", now, 0, true},
		{"past", now.Add(-time.Second), 0, true},
		{"no expiry", time.Time{}, time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.Expired(now, tt.skew))
		})
	}
}

func TestMergeScopes(t *testing.T) {
	got := mergeScopes([]string{"b", "a"}, []string{"c", "a", " "})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestParseStoreType(t *testing.T) {
	for in, want := range map[string]StoreType{"": StoreMemory, "MEMORY": StoreMemory, "file": StoreFile, " valkey ": StoreValkey} {
		got, err := ParseStoreType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseStoreType("postgres")
	assert.True(t, IsKind(err, KindValidation))
}

func TestNewStores_FileRequiresPath(t *testing.T) {
	_, _, err := NewStores(context.Background(), StoreConfig{Type: StoreFile}, nil)
	assert.True(t, IsKind(err, KindValidation))
}

func TestNewStores_Memory(t *testing.T) {
	store, pending, err := NewStores(context.Background(), StoreConfig{Type: StoreMemory}, nil)
	require.NoError(t, err)
	defer pending.Close()

	assert.IsType(t, &MemoryStore{}, store)
	assert.IsType(t, &MemoryPendingStore{}, pending)
}
