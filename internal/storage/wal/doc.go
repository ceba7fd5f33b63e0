// Package wal is the write-ahead log behind the log storage backend.
//
// Every accepted asset mutation is appended here before the new version
// becomes visible. On startup the backend replays the log from the offset
// recorded in its latest snapshot.
//
// A log directory holds numbered segments, wal-<id>.log. Only the newest
// segment is open for appends; rotation seals it by appending a SHA-256
// trailer over everything before it:
//
//	[magic:8 "PSAWAL\x00\x01"] [frame]* [sha256:32]
//
// Each frame is
//
//	[length:4][crc32:4][type:1][payload]
//
// with length covering crc32, type and payload, and the CRC (IEEE) covering
// type and payload. The payload is protobuf wire format (codec.go).
//
// A sealed segment that fails its trailer check is reported as
// ErrCorrupted. The open segment has no trailer, so a torn final frame is
// simply where replay stops; NewWriter truncates it before appending.
//
// Positions are composite offsets, segmentID<<32 | byte offset, as
// returned by Writer.CurrentOffset and accepted by Reader.Seek. Compactor
// removes segments wholly below a snapshot's offset.
package wal
