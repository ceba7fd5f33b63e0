package command

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/psastore-go/internal/core/domain"
)

func requireStorageStatus(t *testing.T, want domain.Status, err error) {
	t.Helper()
	var se *StorageError
	require.True(t, errors.As(err, &se), "error = %v", err)
	assert.Equal(t, want, se.Status)
}

func TestStorage_SetGetInfoRemove(t *testing.T) {
	ts := startTestServer(t)

	_, err := ts.run(t, "ps", "set", "--data", "hello world", "42")
	require.NoError(t, err)

	out, err := ts.run(t, "ps", "get", "42")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = ts.run(t, "ps", "get", "--offset", "6", "--length", "5", "--encoding", "hex", "42")
	require.NoError(t, err)
	assert.Equal(t, "776f726c64\n", out)

	out, err = ts.run(t, "-o", "json", "ps", "info", "42")
	require.NoError(t, err)
	var info InfoResult
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, InfoResult{Service: "ps", UID: 42, Size: 11, Capacity: 11, Flags: "NONE"}, info)

	_, err = ts.run(t, "ps", "rm", "42")
	require.NoError(t, err)

	_, err = ts.run(t, "ps", "get", "42")
	requireStorageStatus(t, domain.StatusKeyNotFound, err)
	assert.EqualError(t, err, "ps get 42: KEY_NOT_FOUND")
}

func TestStorage_WriteOnce(t *testing.T) {
	ts := startTestServer(t)

	_, err := ts.run(t, "its", "set", "--hex", "0xdeadbeef", "--flags", "write-once", "0x10")
	require.NoError(t, err)

	_, err = ts.run(t, "its", "set", "--data", "x", "16")
	requireStorageStatus(t, domain.StatusWriteOnce, err)
	_, err = ts.run(t, "its", "remove", "16")
	requireStorageStatus(t, domain.StatusWriteOnce, err)

	out, err := ts.run(t, "-o", "yaml", "its", "info", "16")
	require.NoError(t, err)
	assert.Contains(t, out, "flags: WRITE_ONCE")
	assert.Contains(t, out, "size: 4")
}

func TestStorage_CreateSetExtended(t *testing.T) {
	ts := startTestServer(t)

	_, err := ts.run(t, "ps", "create", "--size", "8", "7")
	require.NoError(t, err)
	_, err = ts.run(t, "ps", "set-extended", "--offset", "0", "--data", "abcd", "7")
	require.NoError(t, err)
	_, err = ts.run(t, "ps", "set-extended", "--offset", "4", "--base64", base64.StdEncoding.EncodeToString([]byte("efgh")), "7")
	require.NoError(t, err)

	out, err := ts.run(t, "-o", "json", "ps", "get", "7")
	require.NoError(t, err)
	var data DataResult
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Equal(t, "base64", data.Encoding)
	assert.Equal(t, uint32(8), data.Length)
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(raw))

	_, err = ts.run(t, "ps", "set-extended", "--offset", "6", "--data", "xyz", "7")
	requireStorageStatus(t, domain.StatusOffsetInvalid, err)
}

func TestStorage_ITSHasNoCreate(t *testing.T) {
	ts := startTestServer(t)

	out, err := ts.run(t, "its", "support")
	require.NoError(t, err)
	assert.Contains(t, out, "its")
	assert.Contains(t, out, "0x0")

	out, err = ts.run(t, "-o", "json", "ps", "support")
	require.NoError(t, err)
	var sr SupportResult
	require.NoError(t, json.Unmarshal([]byte(out), &sr))
	assert.True(t, sr.Create)
	assert.True(t, sr.SetExtended)
}

func TestStorage_GetToFile(t *testing.T) {
	ts := startTestServer(t)
	src := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(src, []byte{0, 1, 2, 0xff}, 0o600))

	_, err := ts.run(t, "ps", "set", "--file", src, "3")
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out.bin")
	out, err := ts.run(t, "ps", "get", "--out", dst, "3")
	require.NoError(t, err)
	assert.Contains(t, out, "size")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, got)
}

func TestStorage_ArgumentErrors(t *testing.T) {
	ts := startTestServer(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing uid", []string{"ps", "info"}, "UID argument required"},
		{"bad uid", []string{"ps", "info", "abc"}, `invalid UID "abc"`},
		{"no data", []string{"ps", "set", "1"}, "one of --data"},
		{"two data flags", []string{"ps", "set", "--data", "a", "--hex", "00", "1"}, "mutually exclusive"},
		{"bad hex", []string{"ps", "set", "--hex", "zz", "1"}, "--hex"},
		{"bad flag", []string{"ps", "set", "--data", "a", "--flags", "sticky", "1"}, `unknown create flag "sticky"`},
		{"bad encoding", []string{"ps", "get", "--encoding", "rot13", "1"}, "unknown encoding"},
		{"create without size", []string{"ps", "create", "1"}, "size"},
		{"size out of range", []string{"ps", "create", "--size", "4294967296", "1"}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStorage_NoServer(t *testing.T) {
	_, err := runApp(t, nil, "--socket", filepath.Join(t.TempDir(), "none.sock"), "ps", "support")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dial"), err.Error())
}

func TestParseCreateFlags(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.CreateFlags
		wantErr bool
	}{
		{"", domain.FlagNone, false},
		{"none", domain.FlagNone, false},
		{"write-once", domain.FlagWriteOnce, false},
		{"WRITE_ONCE, no-replay-protection", domain.FlagWriteOnce | domain.FlagNoReplayProtection, false},
		{"no-confidentiality", domain.FlagNoConfidentiality, false},
		{"5", domain.FlagWriteOnce | domain.FlagNoReplayProtection, false},
		{"0x8", domain.CreateFlags(8), false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCreateFlags(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUID(t *testing.T) {
	uid, err := ParseUID("0xffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<64-1), uid)

	uid, err = ParseUID("17")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), uid)

	_, err = ParseUID("-1")
	assert.Error(t, err)
}
