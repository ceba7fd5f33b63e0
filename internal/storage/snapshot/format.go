package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var magic = []byte("PSASNAP\x01")

const (
	checksumSize = sha256.Size

	// maxRecordSize bounds a single record read from disk.
	maxRecordSize = 1 << 30
)

// Header field numbers.
const (
	fieldCreatedAt     protowire.Number = 1
	fieldService       protowire.Number = 2
	fieldRecordCount   protowire.Number = 3
	fieldWALLastOffset protowire.Number = 4
)

type header struct {
	CreatedAt     int64
	Service       string
	RecordCount   uint64
	WALLastOffset uint64
}

func (h header) marshal() []byte {
	b := protowire.AppendTag(nil, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.CreatedAt))
	if h.Service != "" {
		b = protowire.AppendTag(b, fieldService, protowire.BytesType)
		b = protowire.AppendString(b, h.Service)
	}
	b = protowire.AppendTag(b, fieldRecordCount, protowire.VarintType)
	b = protowire.AppendVarint(b, h.RecordCount)
	b = protowire.AppendTag(b, fieldWALLastOffset, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, h.WALLastOffset)
}

func parseHeader(b []byte) (header, error) {
	var h header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldCreatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			h.CreatedAt = int64(v)
		case num == fieldService && typ == protowire.BytesType:
			h.Service, n = protowire.ConsumeString(b)
		case num == fieldRecordCount && typ == protowire.VarintType:
			h.RecordCount, n = protowire.ConsumeVarint(b)
		case num == fieldWALLastOffset && typ == protowire.Fixed64Type:
			h.WALLastOffset, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return h, nil
}

// encode writes magic, the header and the records, each prefixed by a
// varint length, then the SHA-256 of those bytes. It returns the checksum.
func encode(w io.Writer, hdr header, records [][]byte) ([]byte, error) {
	h := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(w, h))

	bw.Write(magic)
	bw.Write(protowire.AppendBytes(nil, hdr.marshal()))
	var prefix []byte
	for _, rec := range records {
		if len(rec) > maxRecordSize {
			return nil, ErrRecordTooLarge
		}
		prefix = protowire.AppendVarint(prefix[:0], uint64(len(rec)))
		bw.Write(prefix)
		bw.Write(rec)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("snapshot: write body: %w", err)
	}

	sum := h.Sum(nil)
	if _, err := w.Write(sum); err != nil {
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	return sum, nil
}

// decode verifies and parses a snapshot of the given size.
func decode(r io.ReaderAt, size int64) (header, [][]byte, []byte, error) {
	if size < int64(len(magic))+checksumSize {
		return header{}, nil, nil, ErrChecksumMismatch
	}
	body := size - checksumSize

	sum := make([]byte, checksumSize)
	if _, err := r.ReadAt(sum, body); err != nil {
		return header{}, nil, nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, body)); err != nil {
		return header{}, nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), sum) {
		return header{}, nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(r, 0, body))
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(br, got); err != nil {
		return header{}, nil, nil, err
	}
	if !bytes.Equal(got, magic) {
		return header{}, nil, nil, ErrInvalidMagic
	}

	raw, err := readChunk(br, body)
	if err != nil {
		return header{}, nil, nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	hdr, err := parseHeader(raw)
	if err != nil {
		return header{}, nil, nil, fmt.Errorf("snapshot: parse header: %w", err)
	}

	records := make([][]byte, 0, min(hdr.RecordCount, 1<<16))
	for {
		rec, err := readChunk(br, maxRecordSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return header{}, nil, nil, fmt.Errorf("snapshot: read record: %w", err)
		}
		records = append(records, rec)
	}
	if uint64(len(records)) != hdr.RecordCount {
		return header{}, nil, nil, fmt.Errorf("snapshot: %d records, header says %d", len(records), hdr.RecordCount)
	}
	return hdr, records, sum, nil
}

// readChunk reads one varint-prefixed chunk. It returns io.EOF only when
// no bytes remain.
func readChunk(br *bufio.Reader, limit int64) ([]byte, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) {
		return nil, ErrRecordTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br, b); err != nil {
		return nil, err
	}
	return b, nil
}
