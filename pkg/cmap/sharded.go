package cmap

import (
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is used when New is given no usable shard count.
const DefaultShardCount = 16

// Hasher picks the shard for a key. Only the low bits are used.
type Hasher[K comparable] func(key K) uint64

// Uint64Hasher hashes an integer key with murmur3.
func Uint64Hasher(key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return murmur3.Sum64(b[:])
}

// BytesHasher hashes a byte encoding of a key with murmur3.
func BytesHasher(b []byte) uint64 {
	return murmur3.Sum64(b)
}

// Map is a map split into independently locked shards.
type Map[K comparable, V any] struct {
	shards []bucket[K, V]
	mask   uint64
	hash   Hasher[K]
}

type bucket[K comparable, V any] struct {
	sync.RWMutex
	m map[K]V
}

// New returns a map with DefaultShardCount shards.
func New[K comparable, V any](hash Hasher[K]) *Map[K, V] {
	return NewWithShards[K, V](DefaultShardCount, hash)
}

// NewWithShards returns a map with n shards. n is rounded to
// DefaultShardCount unless it is a positive power of two.
func NewWithShards[K comparable, V any](n int, hash Hasher[K]) *Map[K, V] {
	if n <= 0 || n&(n-1) != 0 {
		n = DefaultShardCount
	}
	m := &Map[K, V]{
		shards: make([]bucket[K, V], n),
		mask:   uint64(n - 1),
		hash:   hash,
	}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) bucketOf(key K) *bucket[K, V] {
	return &m.shards[m.hash(key)&m.mask]
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	b := m.bucketOf(key)
	b.RLock()
	v, ok := b.m[key]
	b.RUnlock()
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V) {
	b := m.bucketOf(key)
	b.Lock()
	b.m[key] = value
	b.Unlock()
}

// Pop removes key and returns the value it held.
func (m *Map[K, V]) Pop(key K) (V, bool) {
	b := m.bucketOf(key)
	b.Lock()
	defer b.Unlock()
	v, ok := b.m[key]
	if ok {
		delete(b.m, key)
	}
	return v, ok
}

// Compute runs fn under the shard's write lock with the current value.
// fn returns the replacement and whether the key should stay present.
func (m *Map[K, V]) Compute(key K, fn func(cur V, exists bool) (V, bool)) (V, bool) {
	b := m.bucketOf(key)
	b.Lock()
	defer b.Unlock()
	cur, exists := b.m[key]
	next, keep := fn(cur, exists)
	switch {
	case keep:
		b.m[key] = next
	case exists:
		delete(b.m, key)
	}
	return next, keep
}

// Count sums the shard sizes. Concurrent writers may make it stale.
func (m *Map[K, V]) Count() int {
	n := 0
	for i := range m.shards {
		b := &m.shards[i]
		b.RLock()
		n += len(b.m)
		b.RUnlock()
	}
	return n
}

// Clear empties every shard.
func (m *Map[K, V]) Clear() {
	for i := range m.shards {
		b := &m.shards[i]
		b.Lock()
		clear(b.m)
		b.Unlock()
	}
}
