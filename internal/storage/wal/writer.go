package wal

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File format constants.
const (
	FilePrefix      = "wal-"
	FileExtension   = ".log"
	MagicBytes      = "PSAWAL\x00\x01"
	MagicBytesSize  = 8
	ChecksumSize    = sha256.Size
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0700
)

// Default configuration values.
const (
	DefaultBatchCount          = 100
	DefaultBatchBytes    int64 = 1 << 20
	DefaultSyncInterval        = time.Second
	DefaultMaxFileSize   int64 = 64 << 20
	DefaultMaxEntryCount       = 100000
)

// SyncMode selects when appended entries reach the disk.
type SyncMode string

const (
	// SyncModeSync writes and fsyncs every entry before Append returns.
	SyncModeSync SyncMode = "sync"

	// SyncModeBatch buffers entries and flushes them by size or interval.
	// Acknowledged entries may be lost on a crash.
	SyncModeBatch SyncMode = "batch"
)

// Config configures the WAL writer. Zero values take the defaults.
type Config struct {
	Dir string

	SyncMode     SyncMode
	SyncInterval time.Duration

	BatchCount int
	BatchBytes int64

	MaxFileSize   int64
	MaxEntryCount int
}

// DefaultConfig returns the default WAL configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		SyncMode:      SyncModeSync,
		SyncInterval:  DefaultSyncInterval,
		BatchCount:    DefaultBatchCount,
		BatchBytes:    DefaultBatchBytes,
		MaxFileSize:   DefaultMaxFileSize,
		MaxEntryCount: DefaultMaxEntryCount,
	}
}

func (c *Config) normalize() {
	if c.SyncMode == "" {
		c.SyncMode = SyncModeSync
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.BatchCount <= 0 {
		c.BatchCount = DefaultBatchCount
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = DefaultBatchBytes
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxEntryCount <= 0 {
		c.MaxEntryCount = DefaultMaxEntryCount
	}
}

// active is the segment currently open for appends. sum covers every
// byte written so it can be emitted as the trailer on finalize.
type active struct {
	id      uint64
	path    string
	f       *os.File
	sum     hash.Hash
	size    int64
	entries int
}

func (a *active) write(p []byte) error {
	n, err := a.f.Write(p)
	a.sum.Write(p[:n])
	a.size += int64(n)
	return err
}

// finalize appends the checksum trailer and closes the file.
func (a *active) finalize() error {
	defer func() { a.f = nil }()
	if _, err := a.f.Write(a.sum.Sum(nil)); err != nil {
		a.f.Close()
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	if err := a.f.Sync(); err != nil {
		a.f.Close()
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	return nil
}

// Writer appends entries to WAL segment files.
//
// The first I/O error is sticky: every later call returns it, because the
// on-disk state after a failed write is unknown.
type Writer struct {
	cfg Config

	mu      sync.Mutex
	seg     *active
	pending bytes.Buffer
	queued  int
	closed  bool
	err     error

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWriter opens a writer on cfg.Dir. An unfinalized latest segment is
// reopened for appends after truncating any torn final frame.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	cfg.normalize()

	latest, finalized, err := latestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var seg *active
	if latest.id == 0 || finalized {
		seg, err = createSegment(cfg.Dir, latest.id+1)
	} else {
		seg, err = resumeSegment(latest)
	}
	if err != nil {
		return nil, err
	}

	w := &Writer{cfg: cfg, seg: seg, stop: make(chan struct{})}
	if cfg.SyncMode == SyncModeBatch {
		w.wg.Add(1)
		go w.syncLoop()
	}
	return w, nil
}

// CurrentOffset returns the composite offset of the next write:
// segmentID<<32 | position in the segment, excluding any trailer.
func (w *Writer) CurrentOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seg.id<<32 | uint64(uint32(w.seg.size))
}

// Append adds an entry. In sync mode the entry is on stable storage when
// Append returns nil.
func (w *Writer) Append(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}

	frame, err := encodeEntryFrame(entry)
	if err != nil {
		return err
	}
	w.pending.Write(frame)
	w.queued++

	if w.cfg.SyncMode == SyncModeSync ||
		w.queued >= w.cfg.BatchCount ||
		int64(w.pending.Len()) >= w.cfg.BatchBytes {
		return w.flush()
	}
	return nil
}

// Flush writes buffered entries to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// Rotate finalizes the active segment and starts a new one. Everything
// written so far becomes eligible for compaction once a snapshot covers it.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flush(); err != nil {
		return err
	}
	if w.seg.entries == 0 {
		return nil
	}
	return w.rotate()
}

// Close flushes pending writes and finalizes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg.f == nil {
		return nil
	}
	if err := w.flush(); err != nil {
		w.seg.f.Close()
		w.seg.f = nil
		return err
	}
	return w.seg.finalize()
}

func (w *Writer) syncLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.cfg.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = w.Flush()
		case <-w.stop:
			return
		}
	}
}

func (w *Writer) flush() error {
	if w.err != nil {
		return w.err
	}
	if w.queued == 0 {
		return nil
	}
	if w.seg.f == nil {
		return w.fail(fmt.Errorf("wal: file not open"))
	}

	// A batch never straddles segments.
	if w.seg.entries > 0 &&
		(w.seg.size+int64(w.pending.Len()) > w.cfg.MaxFileSize ||
			w.seg.entries+w.queued > w.cfg.MaxEntryCount) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if err := w.seg.write(w.pending.Bytes()); err != nil {
		return w.fail(fmt.Errorf("wal: write batch: %w", err))
	}
	if err := w.seg.f.Sync(); err != nil {
		return w.fail(fmt.Errorf("wal: sync: %w", err))
	}
	w.seg.entries += w.queued
	w.pending.Reset()
	w.queued = 0
	return nil
}

func (w *Writer) rotate() error {
	if err := w.seg.finalize(); err != nil {
		return w.fail(err)
	}
	next, err := createSegment(w.cfg.Dir, w.seg.id+1)
	if err != nil {
		return w.fail(err)
	}
	w.seg = next
	return nil
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

// createSegment starts segment id with its magic header.
func createSegment(dir string, id uint64) (*active, error) {
	path := filepath.Join(dir, segmentName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment: %w", err)
	}
	seg := &active{id: id, path: path, f: f, sum: sha256.New()}
	if err := seg.write([]byte(MagicBytes)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: write magic: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: sync: %w", err)
	}
	if err := syncDir(dir); err != nil {
		f.Close()
		return nil, err
	}
	return seg, nil
}

// resumeSegment reopens an unfinalized segment for appends, cutting off a
// torn final frame and rebuilding the running checksum.
func resumeSegment(info segmentInfo) (*active, error) {
	f, err := os.OpenFile(info.path, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("wal: open existing segment: %w", err)
	}
	fail := func(err error) (*active, error) {
		f.Close()
		return nil, err
	}

	n, frames, err := validPrefix(f)
	if err != nil {
		return fail(err)
	}
	if err := f.Truncate(n); err != nil {
		return fail(fmt.Errorf("wal: truncate torn tail: %w", err))
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, io.NewSectionReader(f, 0, n)); err != nil {
		return fail(fmt.Errorf("wal: hash existing segment: %w", err))
	}
	if _, err := f.Seek(n, io.SeekStart); err != nil {
		return fail(fmt.Errorf("wal: seek: %w", err))
	}

	seg := &active{id: info.id, path: info.path, f: f, sum: sum, size: n, entries: frames}
	if n > 0 {
		return seg, nil
	}
	if err := seg.write([]byte(MagicBytes)); err != nil {
		return fail(fmt.Errorf("wal: write magic: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("wal: sync: %w", err))
	}
	return seg, nil
}

// latestSegment returns the newest segment and whether it was finalized.
// id is zero when dir has no segments.
func latestSegment(dir string) (seg segmentInfo, finalized bool, err error) {
	segs, err := listSegments(dir)
	if err != nil || len(segs) == 0 {
		return segmentInfo{}, false, err
	}
	seg = segs[len(segs)-1]
	f, err := os.Open(seg.path)
	if err != nil {
		return segmentInfo{}, false, fmt.Errorf("wal: open latest: %w", err)
	}
	defer f.Close()
	st, err := inspect(f)
	if err != nil {
		return segmentInfo{}, false, err
	}
	return seg, st.finalized, nil
}
