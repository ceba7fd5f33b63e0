package wal

import (
	"errors"
	"time"
)

// File format constants.
const (
	// headerSize is the size of entry header: length (4) + crc (4) = 8 bytes.
	headerSize = 8

	// minFrameLen is the smallest valid Length field: crc (4) + type (1).
	minFrameLen = 5

	// maxFrameLen bounds a single frame to keep a corrupt length from
	// triggering a huge allocation.
	maxFrameLen = 1 << 30
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
	ErrWriterClosed     = errors.New("wal: writer is closed")
)

// OpType represents the type of operation in the WAL.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	OpTypePut
	OpTypeDelete
)

// String returns the op name.
func (o OpType) String() string {
	switch o {
	case OpTypePut:
		return "PUT"
	case OpTypeDelete:
		return "DELETE"
	default:
		return "UNSPECIFIED"
	}
}

// Entry represents one durable operation written to the WAL.
//
// Record is the sealed asset record produced by the storage record codec;
// the WAL treats it as opaque bytes.
type Entry struct {
	OpType    OpType
	Timestamp int64 // Unix milliseconds
	Partition int32
	UID       uint64
	Version   uint64
	Record    []byte
}

// NewPutEntry creates a PUT WAL entry.
func NewPutEntry(partition int32, uid, version uint64, record []byte) *Entry {
	return &Entry{
		OpType:    OpTypePut,
		Timestamp: time.Now().UnixMilli(),
		Partition: partition,
		UID:       uid,
		Version:   version,
		Record:    record,
	}
}

// NewDeleteEntry creates a DELETE WAL entry.
func NewDeleteEntry(partition int32, uid uint64) *Entry {
	return &Entry{
		OpType:    OpTypeDelete,
		Timestamp: time.Now().UnixMilli(),
		Partition: partition,
		UID:       uid,
	}
}
