package wal

import (
	"errors"
	"fmt"
	"os"
)

// DefaultRetainCount is how many segments survive compaction at minimum.
const DefaultRetainCount = 2

// Usage is the on-disk footprint of a WAL directory.
type Usage struct {
	Segments int   `json:"segments"`
	Bytes    int64 `json:"bytes"`
}

// Compactor deletes segments that a snapshot has made redundant.
type Compactor struct {
	dir    string
	retain int
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithRetainCount keeps at least n segments. Values below one are ignored.
func WithRetainCount(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.retain = n
		}
	}
}

// NewCompactor returns a compactor for the segments in dir.
func NewCompactor(dir string, opts ...CompactorOption) *Compactor {
	c := &Compactor{dir: dir, retain: DefaultRetainCount}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compact deletes every segment older than the one holding mark, the
// snapshot's composite WAL offset, but never leaves fewer than the retain
// count. The oldest segments go first. It returns how many were deleted.
func (c *Compactor) Compact(mark uint64) (int, error) {
	segs, err := listSegments(c.dir)
	if err != nil {
		return 0, err
	}

	covered := 0
	for covered < len(segs) && segs[covered].id < mark>>32 {
		covered++
	}
	if limit := len(segs) - c.retain; covered > limit {
		covered = max(limit, 0)
	}

	var errs []error
	for _, s := range segs[:covered] {
		if err := os.Remove(s.path); err != nil {
			errs = append(errs, err)
		}
	}
	removed := covered - len(errs)
	if len(errs) > 0 {
		return removed, fmt.Errorf("wal: compact %s: %w", c.dir, errors.Join(errs...))
	}
	return removed, nil
}

// Usage measures the segments currently in the directory. Segments that
// vanish while being measured are skipped.
func (c *Compactor) Usage() (Usage, error) {
	segs, err := listSegments(c.dir)
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	for _, s := range segs {
		fi, err := os.Stat(s.path)
		if err != nil {
			continue
		}
		u.Segments++
		u.Bytes += fi.Size()
	}
	return u, nil
}
