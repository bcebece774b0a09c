package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyKeyPrefix prefixes every key written by ValkeyStore.
const DefaultValkeyKeyPrefix = "calendarmcp:"

const (
	valkeySessionKey    = "session:"
	valkeyCredentialKey = "credential:"
	valkeyPendingKey    = "pending:"
	valkeyScanCount     = 100
)

// ValkeyConfig configures the Valkey (or Redis) backend.
type ValkeyConfig struct {
	// URL is the server address, e.g. "valkey.namespace.svc:6379".
	URL        string
	Password   string
	DB         int
	KeyPrefix  string
	TLSEnabled bool
}

// ValkeyStore implements Store and PendingStore on top of Valkey.
// Values are JSON documents; pending requests expire with a server-side TTL
// and are consumed with GETDEL so a state token is accepted at most once
// even across replicas.
type ValkeyStore struct {
	client    valkey.Client
	keyPrefix string
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewValkeyStore connects to Valkey and verifies the connection with PING.
func NewValkeyStore(ctx context.Context, cfg ValkeyConfig, logger *slog.Logger) (*ValkeyStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("valkey URL is required")
	}

	opts := valkey.ClientOption{
		InitAddress: []string{cfg.URL},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	store := NewValkeyStoreWithClient(client, cfg.KeyPrefix, logger)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return store, nil
}

// NewValkeyStoreWithClient wraps an existing client.
func NewValkeyStoreWithClient(client valkey.Client, keyPrefix string, logger *slog.Logger) *ValkeyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultValkeyKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ValkeyStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (s *ValkeyStore) key(kind, id string) string {
	return s.keyPrefix + kind + id
}

func (s *ValkeyStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return ErrServiceUnavailable("valkey write failed", err)
	}
	return nil
}

// getJSON decodes the value at key into v. found is false when the key does not exist.
func (s *ValkeyStore) getJSON(ctx context.Context, key string, v any) (found bool, err error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, ErrServiceUnavailable("valkey read failed", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Put implements TokenStore.
func (s *ValkeyStore) Put(ctx context.Context, sessionID string, cred *Credential) error {
	if sessionID == "" {
		return ErrValidation("session_id", "must not be empty")
	}
	if cred == nil {
		return ErrValidation("credential", "must not be nil")
	}
	return s.setJSON(ctx, s.key(valkeyCredentialKey, sessionID), cred, 0)
}

// Get implements TokenStore.
func (s *ValkeyStore) Get(ctx context.Context, sessionID string) (*Credential, error) {
	var cred Credential
	found, err := s.getJSON(ctx, s.key(valkeyCredentialKey, sessionID), &cred)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound(fmt.Sprintf("no credential for session %q", sessionID))
	}
	return &cred, nil
}

// Invalidate implements TokenStore.
func (s *ValkeyStore) Invalidate(ctx context.Context, sessionID string) error {
	cmd := s.client.B().Del().Key(s.key(valkeyCredentialKey, sessionID)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return ErrServiceUnavailable("valkey delete failed", err)
	}
	return nil
}

// SaveSession implements SessionStore.
func (s *ValkeyStore) SaveSession(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrValidation("session_id", "must not be empty")
	}
	return s.setJSON(ctx, s.key(valkeySessionKey, session.ID), session, 0)
}

// GetSession implements SessionStore.
func (s *ValkeyStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	found, err := s.getJSON(ctx, s.key(valkeySessionKey, sessionID), &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound(fmt.Sprintf("session %q not found", sessionID))
	}
	return &session, nil
}

// DeleteSession implements SessionStore. The session's credential is removed too.
func (s *ValkeyStore) DeleteSession(ctx context.Context, sessionID string) error {
	cmd := s.client.B().Del().
		Key(s.key(valkeySessionKey, sessionID), s.key(valkeyCredentialKey, sessionID)).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return ErrServiceUnavailable("valkey delete failed", err)
	}
	return nil
}

// ListSessions implements SessionStore by scanning session keys.
func (s *ValkeyStore) ListSessions(ctx context.Context) ([]*Session, error) {
	var (
		cursor uint64
		out    []*Session
	)
	pattern := s.keyPrefix + valkeySessionKey + "*"

	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(valkeyScanCount).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, ErrServiceUnavailable("valkey scan failed", err)
		}

		for _, key := range entry.Elements {
			var session Session
			found, err := s.getJSON(ctx, key, &session)
			if err != nil {
				return nil, err
			}
			if found {
				out = append(out, &session)
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	sortSessions(out)
	return out, nil
}

// SavePending implements PendingStore. The key expires with the request.
func (s *ValkeyStore) SavePending(ctx context.Context, req *PendingRequest) error {
	if req == nil || req.State == "" {
		return ErrValidation("state", "must not be empty")
	}
	ttl := time.Until(req.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.setJSON(ctx, s.key(valkeyPendingKey, req.State), req, ttl)
}

// ConsumePending implements PendingStore with GETDEL.
func (s *ValkeyStore) ConsumePending(ctx context.Context, state string) (*PendingRequest, error) {
	cmd := s.client.B().Getdel().Key(s.key(valkeyPendingKey, state)).Build()
	raw, err := s.client.Do(ctx, cmd).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound("pending authorization request not found")
	}
	if err != nil {
		return nil, ErrServiceUnavailable("valkey read failed", err)
	}

	var req PendingRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("failed to decode pending request: %w", err)
	}
	return &req, nil
}

// Ping implements Store.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client. Safe to call more than once.
func (s *ValkeyStore) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}
