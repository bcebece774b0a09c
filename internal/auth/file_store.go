package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// fileRecord is one entry of the sessions file, keyed by session id.
type fileRecord struct {
	Session    *Session    `json:"session,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
}

// FileStore persists sessions and credentials in a single JSON file.
// Every mutation rewrites the file through a temporary file and a rename,
// so readers never observe a partially written document.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	records map[string]*fileRecord
	logger  *slog.Logger
}

// NewFileStore opens (or creates) the sessions file at path.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]*fileRecord),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("Sessions file does not exist yet, starting empty", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("failed to parse sessions file %s: %w", path, err)
		}
	}

	return s, nil
}

// Put implements TokenStore.
func (s *FileStore) Put(_ context.Context, sessionID string, cred *Credential) error {
	if sessionID == "" {
		return ErrValidation("session_id", "must not be empty")
	}
	if cred == nil {
		return ErrValidation("credential", "must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(sessionID).Credential = cred.Clone()
	return s.persistLocked()
}

// Get implements TokenStore.
func (s *FileStore) Get(_ context.Context, sessionID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok || rec.Credential == nil {
		return nil, ErrNotFound(fmt.Sprintf("no credential for session %q", sessionID))
	}
	return rec.Credential.Clone(), nil
}

// Invalidate implements TokenStore.
func (s *FileStore) Invalidate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok || rec.Credential == nil {
		return nil
	}
	rec.Credential = nil
	if rec.Session == nil {
		delete(s.records, sessionID)
	}
	return s.persistLocked()
}

// SaveSession implements SessionStore.
func (s *FileStore) SaveSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrValidation("session_id", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := session.Clone()
	stored.Credential = nil
	s.recordLocked(session.ID).Session = stored
	return s.persistLocked()
}

// GetSession implements SessionStore.
func (s *FileStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok || rec.Session == nil {
		return nil, ErrNotFound(fmt.Sprintf("session %q not found", sessionID))
	}
	return rec.Session.Clone(), nil
}

// DeleteSession implements SessionStore. The session's credential is removed too.
func (s *FileStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[sessionID]; !ok {
		return nil
	}
	delete(s.records, sessionID)
	return s.persistLocked()
}

// ListSessions implements SessionStore.
func (s *FileStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Session != nil {
			out = append(out, rec.Session.Clone())
		}
	}
	s.mu.RUnlock()

	sortSessions(out)
	return out, nil
}

// Ping implements Store by checking that the directory is still accessible.
func (s *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("sessions directory unavailable: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// Path returns the location of the sessions file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) recordLocked(sessionID string) *fileRecord {
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &fileRecord{}
		s.records[sessionID] = rec
	}
	return rec
}

// persistLocked writes the whole document. Callers must hold s.mu for writing.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary sessions file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write sessions file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict sessions file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close sessions file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace sessions file: %w", err)
	}
	return nil
}
