package storage

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

func testCipher(t *testing.T, seed byte) adaptive.Cipher {
	t.Helper()
	key := bytes.Repeat([]byte{seed}, 32)
	c, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}
	return c
}

func testEntry(partition int32, uid uint64, data string, flags domain.CreateFlags) *domain.Entry {
	return domain.NewEntry(domain.Key{Partition: partition, UID: uid}, []byte(data), uint32(len(data)), flags, 1700000000000)
}

func TestRecordCodec_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		codec *RecordCodec
		flags domain.CreateFlags
	}{
		{"plain", NewRecordCodec(nil), domain.FlagNone},
		{"sealed", NewRecordCodec(testCipher(t, 1)), domain.FlagWriteOnce},
		{"authenticated", NewRecordCodec(testCipher(t, 1)), domain.FlagNoConfidentiality},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := testEntry(-7, 0xdeadbeef, "secret asset", tc.flags)
			in = in.WithRange(20, []byte("tail"), 1700000001000)

			rec, err := tc.codec.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := tc.codec.Decode(rec)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.Corrupt {
				t.Fatal("decoded entry is corrupt")
			}
			if out.Key != in.Key || out.Flags != in.Flags || out.Version != in.Version ||
				out.AllocatedSize != in.AllocatedSize || out.CreatedAt != in.CreatedAt || out.ModifiedAt != in.ModifiedAt {
				t.Fatalf("metadata mismatch: got %+v, want %+v", out, in)
			}
			if !bytes.Equal(out.Data, in.Data) {
				t.Fatalf("data = %q, want %q", out.Data, in.Data)
			}
		})
	}
}

func TestRecordCodec_Confidentiality(t *testing.T) {
	codec := NewRecordCodec(testCipher(t, 2))

	rec, err := codec.Encode(testEntry(1, 1, "top-secret-value", domain.FlagNone))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Contains(rec, []byte("top-secret-value")) {
		t.Fatal("sealed record contains plaintext")
	}

	rec, err = codec.Encode(testEntry(1, 2, "public-value", domain.FlagNoConfidentiality))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(rec, []byte("public-value")) {
		t.Fatal("NO_CONFIDENTIALITY record should keep content in clear")
	}
}

func TestRecordCodec_EmptyData(t *testing.T) {
	codec := NewRecordCodec(testCipher(t, 3))
	rec, err := codec.Encode(testEntry(1, 9, "", domain.FlagNone))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := codec.Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Corrupt || out.Data == nil || len(out.Data) != 0 {
		t.Fatalf("unexpected entry: %+v", out)
	}
}

func TestRecordCodec_TamperMakesCorrupt(t *testing.T) {
	for _, flags := range []domain.CreateFlags{domain.FlagNone, domain.FlagNoConfidentiality} {
		codec := NewRecordCodec(testCipher(t, 4))
		rec, err := codec.Encode(testEntry(3, 4, "payload!", flags))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		// The last byte is the seal mode or the tag.
		tampered := append([]byte(nil), rec...)
		tampered[len(tampered)-1] ^= 0x01
		out, err := codec.Decode(tampered)
		if err != nil {
			t.Fatalf("Decode(%s): %v", flags, err)
		}
		if !out.Corrupt || out.Data != nil {
			t.Fatalf("flags %s: expected corrupt entry, got %+v", flags, out)
		}
		if out.Key != (domain.Key{Partition: 3, UID: 4}) {
			t.Fatalf("corrupt entry lost its key: %+v", out.Key)
		}
		if out.Footprint() != 8 {
			t.Fatalf("corrupt footprint = %d, want 8", out.Footprint())
		}
	}
}

func TestRecordCodec_MovedRecordFails(t *testing.T) {
	codec := NewRecordCodec(testCipher(t, 5))
	a := testEntry(1, 100, "alpha", domain.FlagNone)
	b := testEntry(1, 200, "bravo", domain.FlagNone)

	recA, _ := codec.Encode(a)
	recB, _ := codec.Encode(b)

	// Splice b's metadata onto a's ciphertext.
	metaB, payloadA := splitRecord(t, recB), splitPayload(t, recA)
	var spliced []byte
	spliced = protowire.AppendTag(spliced, fieldMeta, protowire.BytesType)
	spliced = protowire.AppendBytes(spliced, metaB)
	spliced = protowire.AppendTag(spliced, fieldPayload, protowire.BytesType)
	spliced = protowire.AppendBytes(spliced, payloadA)
	spliced = protowire.AppendTag(spliced, fieldMode, protowire.VarintType)
	spliced = protowire.AppendVarint(spliced, uint64(modeSealed))

	out, err := codec.Decode(spliced)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.Corrupt {
		t.Fatal("ciphertext bound to another key must not authenticate")
	}
}

func TestRecordCodec_KeyMismatch(t *testing.T) {
	rec, err := NewRecordCodec(testCipher(t, 6)).Encode(testEntry(1, 1, "x", domain.FlagNone))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := NewRecordCodec(testCipher(t, 7)).Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.Corrupt {
		t.Fatal("record opened under the wrong key")
	}

	out, err = NewRecordCodec(nil).Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.Corrupt {
		t.Fatal("sealed record opened without a key")
	}
}

func TestRecordCodec_RejectsPlainDowngrade(t *testing.T) {
	rec, err := NewRecordCodec(nil).Encode(testEntry(1, 1, "x", domain.FlagNone))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := NewRecordCodec(testCipher(t, 8)).Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.Corrupt {
		t.Fatal("keyed codec accepted a clear record")
	}
}

func TestRecordCodec_CorruptRecordStaysCorrupt(t *testing.T) {
	e := testEntry(2, 2, "abcdef", domain.FlagNone)
	e = corrupt(e, e.Size())

	out, err := NewRecordCodec(testCipher(t, 9)).Decode(corruptRecord(e))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.Corrupt || out.AllocatedSize != 6 {
		t.Fatalf("unexpected entry: %+v", out)
	}
}

func TestRecordCodec_Malformed(t *testing.T) {
	codec := NewRecordCodec(nil)
	for _, raw := range [][]byte{
		{0xff},
		protowire.AppendTag(nil, fieldPayload, protowire.BytesType),
		protowire.AppendBytes(protowire.AppendTag(nil, fieldPayload, protowire.BytesType), []byte("no meta")),
	} {
		if _, err := codec.Decode(raw); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("Decode(%x) err = %v, want ErrMalformedRecord", raw, err)
		}
	}
}

func splitRecord(t *testing.T, rec []byte) []byte {
	t.Helper()
	return fieldOf(t, rec, fieldMeta)
}

func splitPayload(t *testing.T, rec []byte) []byte {
	t.Helper()
	return fieldOf(t, rec, fieldPayload)
}

func fieldOf(t *testing.T, rec []byte, want protowire.Number) []byte {
	t.Helper()
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			t.Fatalf("ConsumeTag: %v", protowire.ParseError(n))
		}
		rec = rec[n:]
		if num == want && typ == protowire.BytesType {
			v, _ := protowire.ConsumeBytes(rec)
			return v
		}
		rec = rec[protowire.ConsumeFieldValue(num, typ, rec):]
	}
	t.Fatalf("field %d not found", want)
	return nil
}
