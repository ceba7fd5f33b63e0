// Package cmap is the sharded map behind the in-memory asset table.
//
// Keys are spread over a power-of-two number of shards by a caller
// supplied murmur3 hash, and each shard has its own RWMutex. Compute is
// the only read-modify-write primitive; it may also delete the key.
//
//	m := cmap.New[uint64, []byte](cmap.Uint64Hasher)
//	m.Set(7, data)
//	v, ok := m.Get(7)
package cmap
