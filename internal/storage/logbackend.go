package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
	"github.com/yndnr/psastore-go/internal/storage/wal"
)

// Default layout below a log backend directory.
const (
	DefaultWALDir      = "wal"
	DefaultSnapshotDir = "snapshots"
)

// LogConfig configures the append-log backend.
type LogConfig struct {
	// Dir is the base directory; WAL and snapshots live below it unless
	// their own Dir is set.
	Dir string

	Service string

	WAL      wal.Config
	Snapshot snapshot.Config

	// RetainSegments is the minimum number of WAL segments kept by compaction.
	RetainSegments int
}

// DefaultLogConfig returns the default log backend configuration.
func DefaultLogConfig(dir string) LogConfig {
	return LogConfig{
		Dir:            dir,
		WAL:            wal.DefaultConfig(filepath.Join(dir, DefaultWALDir)),
		Snapshot:       snapshot.DefaultConfig(filepath.Join(dir, DefaultSnapshotDir)),
		RetainSegments: wal.DefaultRetainCount,
	}
}

// LogBackend persists records in a segmented WAL and compacts it with
// periodic snapshots. Recovery loads the newest valid snapshot and replays
// the WAL written after it.
type LogBackend struct {
	cfg    LogConfig
	codec  *RecordCodec
	logger *slog.Logger

	wal       *wal.Writer
	snapshots *snapshot.Manager
	compactor *wal.Compactor

	// serializes snapshot writers
	snapMu sync.Mutex
}

// NewLogBackend opens the WAL and snapshot directories under cfg.Dir.
func NewLogBackend(cfg LogConfig, codec *RecordCodec, logger *slog.Logger) (*LogBackend, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage: log backend dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = NewRecordCodec(nil)
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = filepath.Join(cfg.Dir, DefaultWALDir)
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.Dir, DefaultSnapshotDir)
	}
	cfg.Snapshot.Service = cfg.Service

	w, err := wal.NewWriter(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}

	snaps, err := snapshot.NewManager(cfg.Snapshot)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("storage: open snapshots: %w", err)
	}

	return &LogBackend{
		cfg:       cfg,
		codec:     codec,
		logger:    logger,
		wal:       w,
		snapshots: snaps,
		compactor: wal.NewCompactor(cfg.WAL.Dir, wal.WithRetainCount(cfg.RetainSegments)),
	}, nil
}

func (b *LogBackend) Kind() string { return BackendLog }

// Load restores the latest snapshot and replays the WAL after it.
func (b *LogBackend) Load(ctx context.Context, fn func(*domain.Entry) error) error {
	start := time.Now()
	state := make(map[domain.Key]*domain.Entry)

	records, info, err := b.snapshots.Load()
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshots) {
		return fmt.Errorf("load snapshot: %w", err)
	}

	var from uint64
	if info != nil {
		for _, rec := range records {
			e, err := b.codec.Decode(rec)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", info.ID, err)
			}
			state[e.Key] = e
		}
		from = info.WALLastOffset
		b.logger.Info("snapshot loaded",
			"service", b.cfg.Service,
			"id", info.ID,
			"records", info.RecordCount,
			"wal_last_offset", info.WALLastOffset)
	}

	applied, err := b.replay(ctx, from, state)
	if err != nil {
		return err
	}

	corrupt := 0
	for _, e := range state {
		if e.Corrupt {
			corrupt++
		}
		if err := fn(e); err != nil {
			return err
		}
	}

	b.logger.Info("log backend recovered",
		"service", b.cfg.Service,
		"entries", len(state),
		"wal_applied", applied,
		"corrupt", corrupt,
		"elapsed", time.Since(start))
	return nil
}

func (b *LogBackend) replay(ctx context.Context, from uint64, state map[domain.Key]*domain.Entry) (int, error) {
	reader, err := wal.NewReader(b.cfg.WAL.Dir)
	if err != nil {
		return 0, fmt.Errorf("open wal reader: %w", err)
	}
	defer reader.Close()

	if err := reader.Seek(from); err != nil {
		return 0, err
	}

	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		entry, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return applied, nil
			}
			return applied, fmt.Errorf("replay wal: %w", err)
		}

		key := domain.Key{Partition: entry.Partition, UID: entry.UID}
		switch entry.OpType {
		case wal.OpTypePut:
			e, err := b.codec.Decode(entry.Record)
			if err != nil {
				return applied, fmt.Errorf("replay wal %s: %w", key, err)
			}
			state[key] = e
		case wal.OpTypeDelete:
			delete(state, key)
		default:
			return applied, fmt.Errorf("replay wal: %w: %d", wal.ErrInvalidEntryType, entry.OpType)
		}
		applied++
	}
}

// Put appends the sealed entry to the WAL.
func (b *LogBackend) Put(ctx context.Context, e *domain.Entry) error {
	rec, err := b.codec.Encode(e)
	if err != nil {
		return err
	}
	return b.wal.Append(wal.NewPutEntry(e.Partition, e.UID, e.Version, rec))
}

// Delete appends a tombstone to the WAL.
func (b *LogBackend) Delete(ctx context.Context, key domain.Key) error {
	return b.wal.Append(wal.NewDeleteEntry(key.Partition, key.UID))
}

// Mark starts a new WAL segment so that everything before it can be
// compacted once a snapshot at the returned offset exists.
func (b *LogBackend) Mark() (uint64, error) {
	if err := b.wal.Rotate(); err != nil {
		return 0, err
	}
	return b.wal.CurrentOffset(), nil
}

// WriteSnapshot writes entries, prunes old snapshots and compacts the WAL.
func (b *LogBackend) WriteSnapshot(ctx context.Context, mark uint64, entries []*domain.Entry) (*snapshot.Info, error) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()

	records := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := b.encodeForSnapshot(e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	info, err := b.snapshots.Create(records, mark)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	if err := b.snapshots.Prune(); err != nil {
		b.logger.Warn("snapshot prune failed", "service", b.cfg.Service, "error", err)
	}
	removed, err := b.compactor.Compact(info.WALLastOffset)
	if err != nil {
		b.logger.Warn("wal compaction failed", "service", b.cfg.Service, "error", err)
	}

	b.logger.Info("snapshot created",
		"service", b.cfg.Service,
		"id", info.ID,
		"records", info.RecordCount,
		"size_bytes", info.Size,
		"wal_segments_removed", removed)
	return info, nil
}

// WALUsage measures the WAL segments on disk.
func (b *LogBackend) WALUsage() (wal.Usage, error) {
	return b.compactor.Usage()
}

// encodeForSnapshot re-seals an entry. Corrupt entries have lost their
// content, so they are written as a record that can never authenticate.
func (b *LogBackend) encodeForSnapshot(e *domain.Entry) ([]byte, error) {
	if !e.Corrupt {
		return b.codec.Encode(e)
	}
	return corruptRecord(e), nil
}

// Snapshots lists the snapshot files on disk.
func (b *LogBackend) Snapshots() ([]*snapshot.Info, error) {
	return b.snapshots.List()
}

// Close flushes and closes the WAL.
func (b *LogBackend) Close() error {
	return b.wal.Close()
}
