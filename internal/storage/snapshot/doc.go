// Package snapshot writes and reads point-in-time dumps of a storage
// service's sealed asset records.
//
// A snapshot lets recovery skip the WAL prefix it covers. Records are
// stored exactly as the record codec produced them, so confidentiality
// and integrity come from the record seal and not from this package.
//
// File layout:
//
//	snapshot-<timestamp>-<sequence>.snap
//	[magic:8 "PSASNAP\x01"]
//	[varint len][header, protobuf wire format]
//	repeated: [varint len][record]
//	[checksum:32 SHA-256 of all bytes above]
//
// Files are written to a temporary name, fsynced and renamed into place.
// Load walks snapshots from newest to oldest and skips any file whose
// trailer or magic does not verify.
package snapshot
