package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"
)

// Payload field numbers.
const (
	fieldTimestamp protowire.Number = 1
	fieldPartition protowire.Number = 2
	fieldUID       protowire.Number = 3
	fieldVersion   protowire.Number = 4
	fieldRecord    protowire.Number = 5
)

func encodePayload(e *Entry) []byte {
	b := make([]byte, 0, 32+len(e.Record))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp))
	b = protowire.AppendTag(b, fieldPartition, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Partition)))
	b = protowire.AppendTag(b, fieldUID, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.UID)
	if e.Version != 0 {
		b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Version)
	}
	if e.OpType == OpTypePut {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Record)
	}
	return b
}

func decodePayload(b []byte, e *Entry) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wal: payload tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Timestamp = int64(v)
			b = b[n:]
		case num == fieldPartition && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Partition = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case num == fieldUID && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.UID = v
			b = b[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Version = v
			b = b[n:]
		case num == fieldRecord && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Record = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func encodeEntryFrame(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("wal: entry is nil")
	}
	switch e.OpType {
	case OpTypePut:
		if e.Record == nil {
			return nil, fmt.Errorf("wal: missing record for %s", e.OpType)
		}
	case OpTypeDelete:
	default:
		return nil, ErrInvalidEntryType
	}

	payload := encodePayload(e)

	// Length = CRC(4) + Type(1) + Payload.
	length := uint32(minFrameLen + len(payload))
	out := make([]byte, headerSize+1+len(payload))
	binary.BigEndian.PutUint32(out[0:4], length)
	out[8] = byte(e.OpType)
	copy(out[9:], payload)
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(out[8:]))
	return out, nil
}

// decodeEntryFrame decodes [crc32:4][type:1][payload...].
func decodeEntryFrame(frame []byte) (*Entry, error) {
	if len(frame) < minFrameLen {
		return nil, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	if crc32.ChecksumIEEE(frame[4:]) != wantCRC {
		return nil, ErrChecksumMismatch
	}

	op := OpType(frame[4])
	switch op {
	case OpTypePut, OpTypeDelete:
	default:
		return nil, ErrInvalidEntryType
	}

	out := &Entry{OpType: op}
	if err := decodePayload(frame[5:], out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedEntry, err)
	}
	if op == OpTypePut && out.Record == nil {
		return nil, fmt.Errorf("%w: put without record", ErrCorruptedEntry)
	}
	return out, nil
}
