package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PendingStore holds pending authorization requests between start and callback.
type PendingStore interface {
	// SavePending stores a request under its state token.
	SavePending(ctx context.Context, req *PendingRequest) error
	// ConsumePending atomically retrieves and deletes the request for state.
	// A second call with the same state returns a NotFound error.
	ConsumePending(ctx context.Context, state string) (*PendingRequest, error)
	Close() error
}

// MemoryPendingStore keeps pending requests in process memory.
type MemoryPendingStore struct {
	mu       sync.Mutex
	requests map[string]*PendingRequest
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryPendingStore creates a pending store. A positive cleanupInterval starts a
// background goroutine removing requests whose ExpiresAt has passed.
func NewMemoryPendingStore(logger *slog.Logger, cleanupInterval time.Duration) *MemoryPendingStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &MemoryPendingStore{
		requests: make(map[string]*PendingRequest),
		logger:   logger,
		stop:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// SavePending implements PendingStore.
func (s *MemoryPendingStore) SavePending(_ context.Context, req *PendingRequest) error {
	if req == nil || req.State == "" {
		return ErrValidation("state", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *req
	s.requests[req.State] = &stored
	return nil
}

// ConsumePending implements PendingStore.
func (s *MemoryPendingStore) ConsumePending(_ context.Context, state string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[state]
	if !ok {
		return nil, ErrNotFound("pending authorization request not found")
	}
	delete(s.requests, state)
	return req, nil
}

// CleanupExpired removes requests expired at now and returns how many were removed.
func (s *MemoryPendingStore) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, req := range s.requests {
		if now.After(req.ExpiresAt) {
			delete(s.requests, state)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending requests.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Close stops the cleanup goroutine.
func (s *MemoryPendingStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryPendingStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupExpired(time.Now()); n > 0 {
				s.logger.Debug("Cleaned up expired authorization requests", "count", n)
			}
		case <-s.stop:
			return
		}
	}
}
