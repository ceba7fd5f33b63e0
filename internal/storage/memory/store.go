package memory

import (
	"sync"
	"sync/atomic"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/pkg/cmap"
)

// Store is the in-memory asset index.
type Store struct {
	// Primary index: (partition, uid) -> published entry
	entries *cmap.Map[domain.Key, *domain.Entry]

	// Secondary index: partition -> set of uids
	partitions *PartitionIndex

	// Per-key locks, created on demand and dropped when unused
	locks *cmap.Map[domain.Key, *keyLock]

	used atomic.Uint64

	// Configuration
	capacity  uint64
	maxAssets int
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures the Store.
type Option func(*Store)

// WithCapacity limits the total bytes reserved by all entries. 0 is unlimited.
func WithCapacity(bytes uint64) Option {
	return func(s *Store) {
		s.capacity = bytes
	}
}

// WithMaxAssets limits the number of assets per partition. 0 is unlimited.
func WithMaxAssets(max int) Option {
	return func(s *Store) {
		s.maxAssets = max
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    cmap.New[domain.Key, *domain.Entry](hashKey),
		partitions: NewPartitionIndex(),
		locks:      cmap.New[domain.Key, *keyLock](hashKey),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the published entry for key. The entry must not be modified.
func (s *Store) Get(key domain.Key) (*domain.Entry, bool) {
	return s.entries.Get(key)
}

// Lock acquires the lock of one key and returns its release function.
// Locks of different keys are independent.
func (s *Store) Lock(key domain.Key) func() {
	l, _ := s.locks.Compute(key, func(l *keyLock, exists bool) (*keyLock, bool) {
		if !exists {
			l = &keyLock{}
		}
		l.refs++
		return l, true
	})
	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.locks.Compute(key, func(l *keyLock, exists bool) (*keyLock, bool) {
			if !exists {
				return nil, false
			}
			l.refs--
			return l, l.refs > 0
		})
	}
}

// Reserve accounts for replacing cur with next (either may be nil) against
// the capacity and per-partition quota. On success it returns a rollback
// function that undoes the reservation if the write is abandoned.
// The caller must hold the key lock.
func (s *Store) Reserve(cur, next *domain.Entry) (func(), error) {
	var oldBytes, newBytes uint64
	if cur != nil {
		oldBytes = cur.Footprint()
	}
	if next != nil {
		newBytes = next.Footprint()
	}

	if !s.adjust(oldBytes, newBytes) {
		return nil, domain.ErrInsufficientSpace.WithDetails("capacity exhausted")
	}

	added := false
	if cur == nil && next != nil {
		if !s.partitions.TryAdd(next.Partition, next.UID, s.maxAssets) {
			s.adjust(newBytes, oldBytes)
			return nil, domain.ErrInsufficientSpace.WithDetails("asset limit reached")
		}
		added = true
	}

	return func() {
		s.adjust(newBytes, oldBytes)
		if added {
			s.partitions.Remove(next.Partition, next.UID)
		}
	}, nil
}

// adjust moves the used byte count from oldBytes to newBytes, refusing
// growth past capacity. Shrinking always succeeds.
func (s *Store) adjust(oldBytes, newBytes uint64) bool {
	for {
		used := s.used.Load()
		next := used - oldBytes + newBytes
		if newBytes > oldBytes && s.capacity > 0 && next > s.capacity {
			return false
		}
		if s.used.CompareAndSwap(used, next) {
			return true
		}
	}
}

// Publish makes next the visible version of its key. Space must already be
// reserved. The caller must hold the key lock.
func (s *Store) Publish(next *domain.Entry) {
	s.entries.Set(next.Key, next)
}

// Remove deletes key and releases its space.
func (s *Store) Remove(key domain.Key) (*domain.Entry, bool) {
	e, ok := s.entries.Pop(key)
	if !ok {
		return nil, false
	}
	s.adjust(e.Footprint(), 0)
	s.partitions.Remove(key.Partition, key.UID)
	return e, true
}

// Put installs an entry without enforcing limits. Used by recovery, which
// must reproduce whatever was durably accepted.
func (s *Store) Put(e *domain.Entry) {
	var oldBytes uint64
	if cur, ok := s.entries.Get(e.Key); ok {
		oldBytes = cur.Footprint()
	}
	s.entries.Set(e.Key, e)
	s.partitions.TryAdd(e.Partition, e.UID, 0)
	s.forceAdjust(oldBytes, e.Footprint())
}

func (s *Store) forceAdjust(oldBytes, newBytes uint64) {
	for {
		used := s.used.Load()
		if s.used.CompareAndSwap(used, used-oldBytes+newBytes) {
			return
		}
	}
}

// Load replaces the whole content of the store.
func (s *Store) Load(entries []*domain.Entry) {
	s.entries.Clear()
	s.partitions.Clear()
	s.used.Store(0)
	for _, e := range entries {
		s.Put(e)
	}
}

// All returns every published entry. Used for snapshot creation.
func (s *Store) All() []*domain.Entry {
	return s.entries.Values()
}

// Count returns the total number of assets.
func (s *Store) Count() int {
	return s.entries.Count()
}

// CountByPartition returns the number of assets in a partition.
func (s *Store) CountByPartition(partition int32) int {
	return s.partitions.Count(partition)
}

// UIDs returns the uids stored by a partition in ascending order.
func (s *Store) UIDs(partition int32) []uint64 {
	return s.partitions.Get(partition)
}

// UsedBytes returns the bytes currently reserved by all assets.
func (s *Store) UsedBytes() uint64 {
	return s.used.Load()
}

// Capacity returns the configured capacity (0 means unlimited).
func (s *Store) Capacity() uint64 {
	return s.capacity
}

// Stats summarizes the store.
type Stats struct {
	Assets     int               `json:"assets"`
	UsedBytes  uint64            `json:"used_bytes"`
	Capacity   uint64            `json:"capacity"`
	MaxAssets  int               `json:"max_assets_per_partition"`
	Partitions map[int32]int     `json:"partitions"`
	Shards     []cmap.ShardStats `json:"shards,omitempty"`
}

// Stats returns a point-in-time summary.
func (s *Store) Stats() Stats {
	return Stats{
		Assets:     s.entries.Count(),
		UsedBytes:  s.used.Load(),
		Capacity:   s.capacity,
		MaxAssets:  s.maxAssets,
		Partitions: s.partitions.Partitions(),
		Shards:     s.entries.Stats(),
	}
}
