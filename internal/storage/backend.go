package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
)

// Backend kinds accepted by Open.
const (
	BackendLog    = "log"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Backend is the durable medium behind an Engine.
//
// Put and Delete must be durable when they return nil. The engine
// serializes calls for the same key, but calls for different keys may
// run concurrently.
type Backend interface {
	// Kind returns the backend kind name.
	Kind() string

	// Load calls fn for every persisted entry. Used once, before any write.
	Load(ctx context.Context, fn func(*domain.Entry) error) error

	Put(ctx context.Context, e *domain.Entry) error
	Delete(ctx context.Context, key domain.Key) error

	Close() error
}

// Snapshotter is implemented by backends whose log can be compacted.
type Snapshotter interface {
	// Mark returns a position covering every write acknowledged so far.
	// The engine calls it while writers are excluded.
	Mark() (uint64, error)

	// WriteSnapshot persists entries as the state at mark and drops the
	// log that precedes it.
	WriteSnapshot(ctx context.Context, mark uint64, entries []*domain.Entry) (*snapshot.Info, error)
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	// Kind is one of "log", "badger" or "memory". Default: "log".
	Kind string

	// Dir is the data directory of this backend.
	Dir string

	// Service names the storage service, used in file headers and metrics.
	Service string

	Log    LogConfig
	Badger BadgerConfig
}

// Open creates the backend described by cfg.
func Open(cfg BackendConfig, codec *RecordCodec, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Kind {
	case "", BackendLog:
		lc := cfg.Log
		if lc.Dir == "" {
			lc.Dir = cfg.Dir
		}
		lc.Service = cfg.Service
		return NewLogBackend(lc, codec, logger)
	case BackendBadger:
		return NewBadgerBackend(KVConfig{Engine: BackendBadger, Dir: cfg.Dir, Badger: cfg.Badger}, codec, logger)
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Kind)
	}
}
