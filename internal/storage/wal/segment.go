package wal

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// A segment file is MagicBytes followed by frames. Finalizing a segment
// appends the SHA-256 of everything before it; a segment without a valid
// trailer is still open and may end in a torn frame.

var (
	errInvalidMagic    = errors.New("wal: invalid magic bytes")
	errChecksumInvalid = errors.New("wal: checksum mismatch")
)

type segmentInfo struct {
	id   uint64
	path string
}

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, id, FileExtension)
}

func parseSegmentName(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, FilePrefix)
	if !ok {
		return 0, false
	}
	if digits, ok = strings.CutSuffix(digits, FileExtension); !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	return id, err == nil
}

// listSegments returns the segments in dir ordered by id. A missing
// directory has no segments.
func listSegments(dir string) ([]segmentInfo, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var segs []segmentInfo
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(e.Name()); ok {
			segs = append(segs, segmentInfo{id: id, path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// segmentState is what inspect learns about a segment file.
type segmentState struct {
	finalized bool
	body      int64 // bytes before the trailer, or the file size when open
}

// inspect checks the header and trailer of f. A short file is an open
// segment whose header was never completed.
func inspect(f *os.File) (segmentState, error) {
	fi, err := f.Stat()
	if err != nil {
		return segmentState{}, fmt.Errorf("wal: stat segment: %w", err)
	}
	size := fi.Size()
	st := segmentState{body: size}
	if size < MagicBytesSize {
		return st, nil
	}

	var magic [MagicBytesSize]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		return segmentState{}, fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic[:]) != MagicBytes {
		return segmentState{}, errInvalidMagic
	}
	if size < MagicBytesSize+ChecksumSize {
		return st, nil
	}

	var trailer [ChecksumSize]byte
	if _, err := f.ReadAt(trailer[:], size-ChecksumSize); err != nil {
		return segmentState{}, fmt.Errorf("wal: read checksum trailer: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, size-ChecksumSize)); err != nil {
		return segmentState{}, fmt.Errorf("wal: hash segment: %w", err)
	}
	if bytes.Equal(h.Sum(nil), trailer[:]) {
		st.finalized, st.body = true, size-ChecksumSize
	}
	return st, nil
}

// VerifyTrailerChecksum reports whether path is a finalized segment whose
// trailer matches its contents.
func VerifyTrailerChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := inspect(f)
	if err != nil {
		return err
	}
	if !st.finalized {
		return errChecksumInvalid
	}
	return nil
}

// readFrame reads [length:4][frame:length] and returns the frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n < minFrameLen || n > maxFrameLen {
		return nil, ErrCorruptedEntry
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// validPrefix measures the header and the complete, checksum-valid frames
// at the start of an open segment. Anything after them is a torn tail.
func validPrefix(f *os.File) (length int64, frames int, err error) {
	r := bufio.NewReader(io.NewSectionReader(f, 0, 1<<62))

	var magic [MagicBytesSize]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic[:]) != MagicBytes {
		return 0, 0, errInvalidMagic
	}

	length = MagicBytesSize
	for {
		frame, err := readFrame(r)
		if err != nil {
			return length, frames, nil
		}
		if _, err := decodeEntryFrame(frame); err != nil {
			return length, frames, nil
		}
		length += int64(4 + len(frame))
		frames++
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("wal: sync dir: %w", err)
	}
	return nil
}
