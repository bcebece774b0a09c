package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// TokenStore persists credentials keyed by session id.
type TokenStore interface {
	// Put stores or overwrites the credential for a session. Idempotent.
	Put(ctx context.Context, sessionID string, cred *Credential) error
	// Get returns the current credential or a NotFound error.
	Get(ctx context.Context, sessionID string) (*Credential, error)
	// Invalidate removes the credential. Removing a missing credential is not an error.
	Invalidate(ctx context.Context, sessionID string) error
}

// SessionStore persists session records.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]*Session, error)
}

// Store is a backend holding both sessions and their credentials.
type Store interface {
	TokenStore
	SessionStore
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is an in-process Store. Contents are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	credentials map[string]*Credential
	logger      *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		credentials: make(map[string]*Credential),
		logger:      logger,
	}
}

// Put implements TokenStore.
func (s *MemoryStore) Put(_ context.Context, sessionID string, cred *Credential) error {
	if sessionID == "" {
		return ErrValidation("session_id", "must not be empty")
	}
	if cred == nil {
		return ErrValidation("credential", "must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[sessionID] = cred.Clone()
	return nil
}

// Get implements TokenStore.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[sessionID]
	if !ok {
		return nil, ErrNotFound(fmt.Sprintf("no credential for session %q", sessionID))
	}
	return cred.Clone(), nil
}

// Invalidate implements TokenStore.
func (s *MemoryStore) Invalidate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, sessionID)
	return nil
}

// SaveSession implements SessionStore.
func (s *MemoryStore) SaveSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrValidation("session_id", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := session.Clone()
	stored.Credential = nil
	s.sessions[session.ID] = stored
	return nil
}

// GetSession implements SessionStore.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound(fmt.Sprintf("session %q not found", sessionID))
	}
	return session.Clone(), nil
}

// DeleteSession implements SessionStore. The session's credential is removed too.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.credentials, sessionID)
	return nil
}

// ListSessions implements SessionStore, ordered by creation time.
func (s *MemoryStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	s.mu.RUnlock()

	sortSessions(out)
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Stats returns the number of stored sessions and credentials.
func (s *MemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"sessions":    len(s.sessions),
		"credentials": len(s.credentials),
	}
}

func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
