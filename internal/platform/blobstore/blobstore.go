// Package blobstore provides the small key-value stores that hold lab
// configuration snapshots. A snapshot store is shared between server
// instances and survives restarts; it is never the source of truth.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrBlobNotFound   = errors.New("blob not found")
	ErrBlobTooLarge   = errors.New("blob exceeds maximum allowed size")
	ErrMissingKey     = errors.New("blob key is required")
	ErrUnknownBackend = errors.New("unknown snapshot backend")
)

// MaxBlobSize bounds a single stored value (1 MiB). Snapshots are a few
// hundred bytes of JSON.
const MaxBlobSize = 1 << 20

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Store is a byte-oriented key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// InMemoryStore is a thread-safe, process-local Store for tests and single
// instance deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	if err := checkPut(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Keys returns the stored keys in no particular order.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	return keys
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

// NoopStore stores nothing. Reads always miss and writes always fail, so a
// caller that treats the store as best-effort degrades to "no snapshot
// tier".
type NoopStore struct{}

var errNoopWrite = errors.New("snapshot store disabled")

func (NoopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrBlobNotFound }
func (NoopStore) Put(context.Context, string, []byte) error   { return errNoopWrite }
func (NoopStore) Delete(context.Context, string) error        { return ErrBlobNotFound }

func checkPut(key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingKey
	}
	if len(value) > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(value))
	}
	return nil
}
