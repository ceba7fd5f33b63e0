// Package memory provides the in-memory asset index for psastore.
//
// It holds the authoritative, published version of every asset using
// concurrent-safe data structures with sharded locking.
//
// Features:
//
//   - Sharded Storage: assets distributed across shards by (partition, uid)
//   - Per-key Locks: structural operations on one uid are serialized
//     without blocking other uids
//   - Copy-on-write: published entries are never modified, so readers
//     always see a complete version
//   - Space Accounting: total capacity and per-partition asset quotas
//     enforced atomically at write time
//
// Thread Safety:
//
// All operations are thread-safe. Callers that need read-modify-write
// semantics hold the key lock returned by Lock for the whole sequence.
package memory
