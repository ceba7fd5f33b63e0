// Package domain defines the core domain models for psastore.
//
// Domain models are pure value objects without any IO dependencies
// or framework coupling. This package contains:
//
//   - Key: the (partition, uid) pair that addresses a stored asset
//   - Entry: an immutable snapshot of one stored asset and its metadata
//   - CreateFlags: the flag set supplied when an asset is created
//   - Status: the PSA storage status taxonomy used on the wire
//   - Errors: domain error definitions carrying a Status
//
// Entries are never mutated in place. Every change produces a new
// Entry value so readers always observe a complete version.
package domain
