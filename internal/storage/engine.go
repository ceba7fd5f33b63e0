package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/storage/memory"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
	"github.com/yndnr/psastore-go/internal/storage/wal"
)

// DefaultSnapshotInterval is the default interval between automatic snapshots.
const DefaultSnapshotInterval = time.Hour

// Config configures the storage engine.
type Config struct {
	// Service names the storage service ("ps" or "its").
	Service string

	// Capacity limits the bytes reserved by all assets. 0 is unlimited.
	Capacity uint64

	// MaxAssets limits the number of assets per partition. 0 is unlimited.
	MaxAssets int

	// SnapshotInterval is the interval between automatic snapshots.
	// Only used when the backend supports snapshots. Negative disables them.
	SnapshotInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig(service string) Config {
	return Config{
		Service:          service,
		SnapshotInterval: DefaultSnapshotInterval,
		Logger:           slog.Default(),
	}
}

// UpdateFunc computes the replacement for the current entry of a key (nil
// when absent). Returning remove deletes the key. Returning next == cur
// (or nil without remove) leaves the key unchanged.
type UpdateFunc func(cur *domain.Entry) (next *domain.Entry, remove bool, err error)

// Engine keeps the published entries of one storage service in memory and
// makes every mutation durable in its backend before publishing it.
type Engine struct {
	cfg     Config
	store   *memory.Store
	backend Backend
	logger  *slog.Logger

	// Writers hold mu in read mode; snapshot capture holds it in write mode.
	mu sync.RWMutex

	recovered atomic.Bool
	closed    atomic.Bool

	lastSnapshot atomic.Pointer[snapshot.Info]

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates an engine over backend. The engine owns the backend and
// closes it on Close.
//
// This does NOT load existing data; call Recover before serving requests.
func New(cfg Config, backend Backend) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage: backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts []memory.Option
	if cfg.Capacity > 0 {
		opts = append(opts, memory.WithCapacity(cfg.Capacity))
	}
	if cfg.MaxAssets > 0 {
		opts = append(opts, memory.WithMaxAssets(cfg.MaxAssets))
	}

	e := &Engine{
		cfg:     cfg,
		store:   memory.New(opts...),
		backend: backend,
		logger:  cfg.Logger.With("service", cfg.Service, "backend", backend.Kind()),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	return e, nil
}

// Recover loads the persisted state into memory and starts background
// snapshots. Limits are not enforced on recovered content.
func (e *Engine) Recover(ctx context.Context) error {
	if e.closed.Load() {
		return domain.ErrStorageClosed
	}
	if e.recovered.Load() {
		return fmt.Errorf("storage: already recovered")
	}

	start := time.Now()
	var entries []*domain.Entry
	corrupt := 0
	err := e.backend.Load(ctx, func(entry *domain.Entry) error {
		if entry.Corrupt {
			corrupt++
			e.logger.Warn("asset failed authentication", "key", entry.Key.String())
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: recover %s: %w", e.cfg.Service, err)
	}
	e.store.Load(entries)
	e.recovered.Store(true)

	e.logger.Info("recovery completed",
		"assets", len(entries),
		"corrupt", corrupt,
		"used_bytes", e.store.UsedBytes(),
		"elapsed", time.Since(start))

	if _, ok := e.backend.(Snapshotter); ok && e.cfg.SnapshotInterval > 0 {
		go e.backgroundLoop()
	} else {
		close(e.doneCh)
	}
	return nil
}

// Get returns the published entry for key. The entry must not be modified.
func (e *Engine) Get(key domain.Key) (*domain.Entry, bool) {
	return e.store.Get(key)
}

// Update runs fn under the lock of key and makes its result durable before
// publishing it. Backend failures are reported as storage failures and
// leave the published state unchanged.
func (e *Engine) Update(ctx context.Context, key domain.Key, fn UpdateFunc) error {
	if e.closed.Load() {
		return domain.ErrStorageClosed
	}

	unlock := e.store.Lock(key)
	defer unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return domain.ErrStorageClosed
	}

	cur, _ := e.store.Get(key)
	next, remove, err := fn(cur)
	if err != nil {
		return err
	}

	if remove {
		if cur == nil {
			return nil
		}
		if err := e.backend.Delete(ctx, key); err != nil {
			e.logger.Error("backend delete failed", "key", key.String(), "error", err)
			return domain.ErrStorageFailure.WithCause(err)
		}
		e.store.Remove(key)
		return nil
	}

	if next == nil || next == cur {
		return nil
	}
	if next.Key != key {
		return domain.ErrInternalServer.WithDetails("update produced entry for another key")
	}

	rollback, err := e.store.Reserve(cur, next)
	if err != nil {
		return err
	}
	if err := e.backend.Put(ctx, next); err != nil {
		rollback()
		e.logger.Error("backend put failed", "key", key.String(), "error", err)
		return domain.ErrStorageFailure.WithCause(err)
	}
	e.store.Publish(next)
	return nil
}

// TriggerSnapshot captures the current state and writes a snapshot. Writers
// are excluded only while the state is captured.
func (e *Engine) TriggerSnapshot(ctx context.Context) (*snapshot.Info, error) {
	if e.closed.Load() {
		return nil, domain.ErrStorageClosed
	}
	s, ok := e.backend.(Snapshotter)
	if !ok {
		return nil, domain.ErrOperationNotSupported.WithDetails(
			fmt.Sprintf("backend %q does not support snapshots", e.backend.Kind()))
	}

	e.mu.Lock()
	mark, err := s.Mark()
	entries := e.store.All()
	e.mu.Unlock()
	if err != nil {
		return nil, domain.ErrStorageFailure.WithCause(err)
	}

	info, err := s.WriteSnapshot(ctx, mark, entries)
	if err != nil {
		return nil, domain.ErrStorageFailure.WithCause(err)
	}
	e.lastSnapshot.Store(info)
	return info, nil
}

func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.TriggerSnapshot(ctx); err != nil && !errors.Is(err, domain.ErrStorageClosed) {
				e.logger.Error("auto snapshot failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// Stats summarizes one engine.
type Stats struct {
	Service      string         `json:"service"`
	Backend      string         `json:"backend"`
	Store        memory.Stats   `json:"store"`
	LastSnapshot *snapshot.Info `json:"last_snapshot,omitempty"`
	KV           *KVStats       `json:"kv,omitempty"`
	WAL          *wal.Usage     `json:"wal,omitempty"`
}

// Stats returns a point-in-time summary.
func (e *Engine) Stats() Stats {
	st := Stats{
		Service:      e.cfg.Service,
		Backend:      e.backend.Kind(),
		Store:        e.store.Stats(),
		LastSnapshot: e.lastSnapshot.Load(),
	}
	if b, ok := e.backend.(*BadgerBackend); ok && !e.closed.Load() {
		kv := b.Stats()
		st.KV = &kv
	}
	if b, ok := e.backend.(*LogBackend); ok {
		if u, err := b.WALUsage(); err == nil {
			st.WAL = &u
		}
	}
	return st
}

// Count returns the number of assets.
func (e *Engine) Count() int {
	return e.store.Count()
}

// UsedBytes returns the bytes reserved by all assets.
func (e *Engine) UsedBytes() uint64 {
	return e.store.UsedBytes()
}

// Service returns the service name.
func (e *Engine) Service() string {
	return e.cfg.Service
}

// Ready reports whether the engine has recovered and is not closed.
func (e *Engine) Ready() bool {
	return e.recovered.Load() && !e.closed.Load()
}

// Close stops background work, waits for in-flight writers and closes the
// backend.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		if e.recovered.Load() {
			<-e.doneCh
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		if cerr := e.backend.Close(); cerr != nil {
			e.logger.Error("close backend failed", "error", cerr)
			err = cerr
			return
		}
		e.logger.Info("storage engine closed")
	})
	return err
}
