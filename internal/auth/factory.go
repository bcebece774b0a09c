package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StoreType selects the session and credential backend.
type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreFile   StoreType = "file"
	StoreValkey StoreType = "valkey"
)

// ParseStoreType parses a backend name. An empty string selects memory.
func ParseStoreType(s string) (StoreType, error) {
	switch StoreType(strings.ToLower(strings.TrimSpace(s))) {
	case "", StoreMemory:
		return StoreMemory, nil
	case StoreFile:
		return StoreFile, nil
	case StoreValkey:
		return StoreValkey, nil
	default:
		return "", ErrValidation("token_store_type", fmt.Sprintf("unsupported store type %q (expected memory, file or valkey)", s))
	}
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type StoreType
	// FilePath is used by the file backend.
	FilePath string
	Valkey   ValkeyConfig
	// PendingCleanupInterval is the sweep interval of in-process pending stores.
	PendingCleanupInterval time.Duration
}

// NewStores builds the session/credential store and the pending request store.
// The Valkey backend serves both from one client; the other backends keep pending
// requests in memory since they only live for minutes.
func NewStores(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, PendingStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := cfg.PendingCleanupInterval
	if cleanup <= 0 {
		cleanup = DefaultSweepInterval
	}

	switch cfg.Type {
	case "", StoreMemory:
		return NewMemoryStore(logger), NewMemoryPendingStore(logger, cleanup), nil

	case StoreFile:
		if cfg.FilePath == "" {
			return nil, nil, ErrValidation("token_store_file", "is required for the file store")
		}
		store, err := NewFileStore(cfg.FilePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, NewMemoryPendingStore(logger, cleanup), nil

	case StoreValkey:
		store, err := NewValkeyStore(ctx, cfg.Valkey, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	default:
		return nil, nil, ErrValidation("token_store_type", fmt.Sprintf("unsupported store type %q", cfg.Type))
	}
}
