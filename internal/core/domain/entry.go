package domain

import (
	"fmt"
	"strings"
)

// Asset constraints.
const (
	// MaxAssetSize is the largest size expressible by the 32-bit API.
	MaxAssetSize = ^uint32(0)
)

// Key addresses one asset. Each partition has its own uid namespace.
type Key struct {
	Partition int32  `json:"partition"`
	UID       uint64 `json:"uid"`
}

// String renders the key as "<partition>:<uid hex>".
func (k Key) String() string {
	return fmt.Sprintf("%d:%#x", k.Partition, k.UID)
}

// CreateFlags is the flag set supplied when an asset is created.
type CreateFlags uint32

const (
	FlagNone               CreateFlags = 0
	FlagWriteOnce          CreateFlags = 1 << 0
	FlagNoConfidentiality  CreateFlags = 1 << 1
	FlagNoReplayProtection CreateFlags = 1 << 2

	// SupportedFlags is the mask of all flags this implementation recognizes.
	SupportedFlags = FlagWriteOnce | FlagNoConfidentiality | FlagNoReplayProtection
)

// Has reports whether every bit of f2 is set in f.
func (f CreateFlags) Has(f2 CreateFlags) bool {
	return f&f2 == f2 && f2 != 0
}

// Supported reports whether f only contains recognized bits.
func (f CreateFlags) Supported() bool {
	return f&^SupportedFlags == 0
}

// String lists the set flag names separated by "|".
func (f CreateFlags) String() string {
	if f == FlagNone {
		return "NONE"
	}
	var parts []string
	if f.Has(FlagWriteOnce) {
		parts = append(parts, "WRITE_ONCE")
	}
	if f.Has(FlagNoConfidentiality) {
		parts = append(parts, "NO_CONFIDENTIALITY")
	}
	if f.Has(FlagNoReplayProtection) {
		parts = append(parts, "NO_REPLAY_PROTECTION")
	}
	if rest := f &^ SupportedFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Entry is one stored asset. An Entry is never modified after it has been
// published to the store; mutations build a replacement via the With* methods.
type Entry struct {
	Key

	// Data holds the current content. len(Data) is the reported size.
	Data []byte `json:"data"`

	// AllocatedSize is the reserved maximum size for extended writes.
	AllocatedSize uint32 `json:"allocated_size"`

	// Flags are the create flags recorded at creation.
	Flags CreateFlags `json:"flags"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// ModifiedAt is the last mutation timestamp (Unix milliseconds).
	ModifiedAt int64 `json:"modified_at"`

	// Version increases by one on every mutation.
	Version uint64 `json:"version"`

	// Corrupt marks an entry whose persisted record failed authentication.
	Corrupt bool `json:"-"`
}

// Info is the metadata returned by get_info.
type Info struct {
	Size     uint32      `json:"size"`
	Capacity uint32      `json:"capacity"`
	Flags    CreateFlags `json:"flags"`
}

// NewEntry builds the first version of an asset.
func NewEntry(key Key, data []byte, allocated uint32, flags CreateFlags, now int64) *Entry {
	return &Entry{
		Key:           key,
		Data:          cloneBytes(data),
		AllocatedSize: allocated,
		Flags:         flags,
		CreatedAt:     now,
		ModifiedAt:    now,
		Version:       1,
	}
}

// Size returns the current content length.
func (e *Entry) Size() uint32 {
	return uint32(len(e.Data))
}

// IsWriteOnce reports whether the entry is immutable.
func (e *Entry) IsWriteOnce() bool {
	return e.Flags.Has(FlagWriteOnce)
}

// Footprint is the number of bytes the entry reserves against capacity.
func (e *Entry) Footprint() uint64 {
	if e.AllocatedSize > e.Size() {
		return uint64(e.AllocatedSize)
	}
	return uint64(e.Size())
}

// Info returns the metadata view of the entry.
func (e *Entry) Info() Info {
	return Info{
		Size:     e.Size(),
		Capacity: e.AllocatedSize,
		Flags:    e.Flags,
	}
}

// WithData returns a new version whose content is replaced by data.
// The allocation follows the new length.
func (e *Entry) WithData(data []byte, now int64) *Entry {
	next := *e
	next.Data = cloneBytes(data)
	next.AllocatedSize = uint32(len(data))
	next.ModifiedAt = now
	next.Version = e.Version + 1
	return &next
}

// WithRange returns a new version with data written at offset. The current
// size grows to offset+len(data) when that exceeds it; gaps read as zeros.
func (e *Entry) WithRange(offset uint32, data []byte, now int64) *Entry {
	end := uint64(offset) + uint64(len(data))
	size := uint64(len(e.Data))
	if end > size {
		size = end
	}
	buf := make([]byte, size)
	copy(buf, e.Data)
	copy(buf[offset:], data)

	next := *e
	next.Data = buf
	next.ModifiedAt = now
	next.Version = e.Version + 1
	return &next
}

// ReadAt copies length bytes starting at offset into buf.
// Bounds must already be validated by the caller.
func (e *Entry) ReadAt(buf []byte, offset, length uint32) {
	copy(buf[:length], e.Data[offset:offset+length])
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
