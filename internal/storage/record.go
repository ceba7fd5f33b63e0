package storage

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

// ErrMalformedRecord is returned when a record cannot be parsed at all.
// Authentication failures are not errors: they yield a Corrupt entry.
var ErrMalformedRecord = errors.New("storage: malformed record")

// Record envelope fields.
const (
	fieldMeta    protowire.Number = 1
	fieldPayload protowire.Number = 2
	fieldMode    protowire.Number = 3
	fieldTag     protowire.Number = 4
)

// Metadata fields.
const (
	metaPartition protowire.Number = 1
	metaUID       protowire.Number = 2
	metaFlags     protowire.Number = 3
	metaAllocated protowire.Number = 4
	metaSize      protowire.Number = 5
	metaCreated   protowire.Number = 6
	metaModified  protowire.Number = 7
	metaVersion   protowire.Number = 8
)

type sealMode uint64

const (
	modePlain         sealMode = 0
	modeSealed        sealMode = 1
	modeAuthenticated sealMode = 2

	// modeLost marks a record whose content failed authentication earlier
	// and was carried forward without it.
	modeLost sealMode = 3
)

// RecordCodec turns entries into self-contained persisted records.
//
// The encoded metadata is the AEAD additional data, so a record only opens
// under the key, version and flags it was written with. Entries flagged
// NO_CONFIDENTIALITY keep their content in clear and carry an
// authentication tag only. A nil cipher stores everything in clear.
type RecordCodec struct {
	cipher adaptive.Cipher
}

// NewRecordCodec creates a codec. c may be nil.
func NewRecordCodec(c adaptive.Cipher) *RecordCodec {
	return &RecordCodec{cipher: c}
}

// Sealed reports whether records are protected by a cipher.
func (c *RecordCodec) Sealed() bool {
	return c != nil && c.cipher != nil
}

// Encode seals e into a record.
func (c *RecordCodec) Encode(e *domain.Entry) ([]byte, error) {
	meta := encodeMeta(e)

	mode := modePlain
	payload := e.Data
	var tag []byte
	if c.Sealed() {
		var err error
		if e.Flags.Has(domain.FlagNoConfidentiality) {
			mode = modeAuthenticated
			tag, err = c.cipher.Encrypt(nil, authData(meta, e.Data))
		} else {
			mode = modeSealed
			payload, err = c.cipher.Encrypt(e.Data, meta)
		}
		if err != nil {
			return nil, fmt.Errorf("storage: seal record %s: %w", e.Key, err)
		}
	}

	b := make([]byte, 0, len(meta)+len(payload)+len(tag)+16)
	b = protowire.AppendTag(b, fieldMeta, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	if mode != modePlain {
		b = protowire.AppendTag(b, fieldMode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(mode))
	}
	if tag != nil {
		b = protowire.AppendTag(b, fieldTag, protowire.BytesType)
		b = protowire.AppendBytes(b, tag)
	}
	return b, nil
}

// Decode opens a record. A record that parses but fails authentication is
// returned as an entry with Corrupt set and no data.
func (c *RecordCodec) Decode(raw []byte) (*domain.Entry, error) {
	var (
		meta, payload, tag []byte
		mode               sealMode
		seen               bool
	)
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		raw = raw[n:]
		switch {
		case num == fieldMeta && typ == protowire.BytesType:
			meta, n = protowire.ConsumeBytes(raw)
			seen = true
		case num == fieldPayload && typ == protowire.BytesType:
			payload, n = protowire.ConsumeBytes(raw)
		case num == fieldTag && typ == protowire.BytesType:
			tag, n = protowire.ConsumeBytes(raw)
		case num == fieldMode && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(raw)
			mode = sealMode(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		raw = raw[n:]
	}
	if !seen {
		return nil, fmt.Errorf("%w: missing metadata", ErrMalformedRecord)
	}

	e, size, err := decodeMeta(meta)
	if err != nil {
		return nil, err
	}

	data, ok := c.open(mode, meta, payload, tag)
	if !ok || uint32(len(data)) != size {
		return corrupt(e, size), nil
	}
	e.Data = make([]byte, len(data))
	copy(e.Data, data)
	return e, nil
}

func (c *RecordCodec) open(mode sealMode, meta, payload, tag []byte) ([]byte, bool) {
	switch mode {
	case modePlain:
		// A keyed codec never accepts clear records: that would allow a downgrade.
		return payload, !c.Sealed()
	case modeSealed:
		if !c.Sealed() {
			return nil, false
		}
		plain, err := c.cipher.Decrypt(payload, meta)
		return plain, err == nil
	case modeAuthenticated:
		if !c.Sealed() {
			return nil, false
		}
		_, err := c.cipher.Decrypt(tag, authData(meta, payload))
		return payload, err == nil
	default:
		return nil, false
	}
}

// corruptRecord encodes a Corrupt entry so that it decodes as Corrupt again.
func corruptRecord(e *domain.Entry) []byte {
	meta := encodeMeta(e)
	b := make([]byte, 0, len(meta)+8)
	b = protowire.AppendTag(b, fieldMeta, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	b = protowire.AppendTag(b, fieldMode, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(modeLost))
}

func corrupt(e *domain.Entry, size uint32) *domain.Entry {
	// Keep the space the asset was accounted for.
	if size > e.AllocatedSize {
		e.AllocatedSize = size
	}
	e.Data = nil
	e.Corrupt = true
	return e
}

func authData(meta, data []byte) []byte {
	out := make([]byte, 0, len(meta)+len(data))
	out = append(out, meta...)
	return append(out, data...)
}

func encodeMeta(e *domain.Entry) []byte {
	b := make([]byte, 0, 48)
	b = protowire.AppendTag(b, metaPartition, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Partition)))
	b = protowire.AppendTag(b, metaUID, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.UID)
	b = protowire.AppendTag(b, metaFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Flags))
	b = protowire.AppendTag(b, metaAllocated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.AllocatedSize))
	b = protowire.AppendTag(b, metaSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Size()))
	b = protowire.AppendTag(b, metaCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.CreatedAt))
	b = protowire.AppendTag(b, metaModified, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ModifiedAt))
	b = protowire.AppendTag(b, metaVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Version)
	return b
}

func decodeMeta(b []byte) (*domain.Entry, uint32, error) {
	e := &domain.Entry{}
	var size uint32
	var seenUID bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: meta tag: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]

		if num == metaUID && typ == protowire.Fixed64Type {
			e.UID, n = protowire.ConsumeFixed64(b)
			seenUID = true
		} else if typ == protowire.VarintType {
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case metaPartition:
				e.Partition = int32(protowire.DecodeZigZag(v))
			case metaFlags:
				e.Flags = domain.CreateFlags(v)
			case metaAllocated:
				e.AllocatedSize = uint32(v)
			case metaSize:
				size = uint32(v)
			case metaCreated:
				e.CreatedAt = int64(v)
			case metaModified:
				e.ModifiedAt = int64(v)
			case metaVersion:
				e.Version = v
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: meta field %d: %v", ErrMalformedRecord, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if !seenUID {
		return nil, 0, fmt.Errorf("%w: missing uid", ErrMalformedRecord)
	}
	return e, size, nil
}
