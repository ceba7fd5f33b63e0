package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCorrupted reports damage inside a finalized segment.
var ErrCorrupted = errors.New("wal: corrupted segment")

// Reader streams entries from every segment of a directory in order.
//
// A bad frame at the end of the open (unfinalized) segment ends the
// stream. The same damage inside a finalized segment is ErrCorrupted.
type Reader struct {
	pending []segmentInfo
	skip    int64 // offset to start at in the next segment opened

	cur *cursor
}

// cursor is the segment being read.
type cursor struct {
	seg       segmentInfo
	f         *os.File
	finalized bool
	r         *bufio.Reader
}

// NewReader lists the segments in dir. Segments created afterwards are
// not seen.
func NewReader(dir string) (*Reader, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{pending: segs}, nil
}

// Seek moves to a composite offset (segmentID<<32 | offset in segment).
// Segments before segmentID are skipped. If that segment no longer exists
// reading starts at the next one.
func (r *Reader) Seek(offset uint64) error {
	r.Close()
	id, off := offset>>32, int64(uint32(offset))

	for len(r.pending) > 0 && r.pending[0].id < id {
		r.pending = r.pending[1:]
	}
	r.skip = 0
	if len(r.pending) > 0 && r.pending[0].id == id {
		r.skip = off
	}
	return nil
}

// Read returns the next entry, or io.EOF after the last one.
func (r *Reader) Read() (*Entry, error) {
	for {
		if r.cur == nil {
			if len(r.pending) == 0 {
				return nil, io.EOF
			}
			if err := r.open(r.pending[0]); err != nil {
				return nil, err
			}
			r.pending = r.pending[1:]
		}

		e, err := r.cur.next()
		if err == nil {
			return e, nil
		}
		c := r.cur
		r.Close()
		if errors.Is(err, io.EOF) || !c.finalized {
			continue
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, c.seg.path, err)
	}
}

// ReadAll reads entries until the end of the log.
func (r *Reader) ReadAll() ([]*Entry, error) {
	var out []*Entry
	for {
		e, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// Close releases the open segment. The reader stays usable.
func (r *Reader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.f.Close()
	r.cur = nil
	return err
}

func (r *Reader) open(seg segmentInfo) error {
	f, err := os.Open(seg.path)
	if err != nil {
		return err
	}
	st, err := inspect(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, seg.path, err)
	}

	start := min(max(r.skip, MagicBytesSize), st.body)
	r.skip = 0
	r.cur = &cursor{
		seg:       seg,
		f:         f,
		finalized: st.finalized,
		r:         bufio.NewReader(io.NewSectionReader(f, start, st.body-start)),
	}
	return nil
}

func (c *cursor) next() (*Entry, error) {
	frame, err := readFrame(c.r)
	if err != nil {
		return nil, err
	}
	return decodeEntryFrame(frame)
}
