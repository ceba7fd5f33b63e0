package storage

import (
	"context"
	"sync"

	"github.com/yndnr/psastore-go/internal/core/domain"
)

// MemoryBackend keeps entries in process memory only. Content survives an
// engine restart within the same process but not a process restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[domain.Key]*domain.Entry
}

// NewMemoryBackend creates an empty volatile backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[domain.Key]*domain.Entry)}
}

func (b *MemoryBackend) Kind() string { return BackendMemory }

func (b *MemoryBackend) Load(ctx context.Context, fn func(*domain.Entry) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Put(ctx context.Context, e *domain.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.Key] = e
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key domain.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// Close keeps the stored entries so that a new engine over the same
// backend recovers them.
func (b *MemoryBackend) Close() error {
	return nil
}
