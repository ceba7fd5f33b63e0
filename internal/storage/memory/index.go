package memory

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/pkg/cmap"
)

// hashKey spreads (partition, uid) pairs across shards.
func hashKey(k domain.Key) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[:4], uint32(k.Partition))
	binary.LittleEndian.PutUint64(b[4:], k.UID)
	return cmap.BytesHasher(b[:])
}

func hashPartition(p int32) uint64 {
	return cmap.Uint64Hasher(uint64(uint32(p)))
}

// UIDSet is a concurrent-safe set of uids.
type UIDSet struct {
	mu    sync.RWMutex
	items map[uint64]struct{}
}

// NewUIDSet creates a new uid set.
func NewUIDSet() *UIDSet {
	return &UIDSet{
		items: make(map[uint64]struct{}),
	}
}

// Add adds a uid to the set.
func (s *UIDSet) Add(uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[uid] = struct{}{}
}

// Remove removes a uid from the set.
func (s *UIDSet) Remove(uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, uid)
}

// Contains checks if a uid is in the set.
func (s *UIDSet) Contains(uid uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[uid]
	return ok
}

// Len returns the number of items in the set.
func (s *UIDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns the uids in ascending order.
func (s *UIDSet) Items() []uint64 {
	s.mu.RLock()
	items := make([]uint64, 0, len(s.items))
	for uid := range s.items {
		items = append(items, uid)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// PartitionIndex tracks which uids exist in each partition.
//
// Adds and removes run inside the shard lock of the partition, so a quota
// check and the insertion it guards are atomic.
type PartitionIndex struct {
	index *cmap.Map[int32, *UIDSet]
}

// NewPartitionIndex creates a new partition index.
func NewPartitionIndex() *PartitionIndex {
	return &PartitionIndex{
		index: cmap.New[int32, *UIDSet](hashPartition),
	}
}

// TryAdd adds uid to the partition unless that would exceed max uids.
// max <= 0 means unlimited. Adding a uid that is already present succeeds.
func (i *PartitionIndex) TryAdd(partition int32, uid uint64, max int) bool {
	added := false
	i.index.Compute(partition, func(set *UIDSet, exists bool) (*UIDSet, bool) {
		if !exists {
			set = NewUIDSet()
		}
		if max > 0 && set.Len() >= max && !set.Contains(uid) {
			return set, exists
		}
		set.Add(uid)
		added = true
		return set, true
	})
	return added
}

// Remove removes a uid and drops the partition once it is empty.
func (i *PartitionIndex) Remove(partition int32, uid uint64) {
	i.index.Compute(partition, func(set *UIDSet, exists bool) (*UIDSet, bool) {
		if !exists {
			return nil, false
		}
		set.Remove(uid)
		return set, set.Len() > 0
	})
}

// Get returns the uids of a partition.
func (i *PartitionIndex) Get(partition int32) []uint64 {
	set, ok := i.index.Get(partition)
	if !ok {
		return nil
	}
	return set.Items()
}

// Count returns the number of uids in a partition.
func (i *PartitionIndex) Count(partition int32) int {
	set, ok := i.index.Get(partition)
	if !ok {
		return 0
	}
	return set.Len()
}

// Partitions returns the uid count of every non-empty partition.
func (i *PartitionIndex) Partitions() map[int32]int {
	out := make(map[int32]int)
	i.index.Range(func(p int32, set *UIDSet) bool {
		out[p] = set.Len()
		return true
	})
	return out
}

// Clear removes every partition.
func (i *PartitionIndex) Clear() {
	i.index.Clear()
}
