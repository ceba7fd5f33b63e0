package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/psastore-go/internal/core/domain"
)

// ErrClosed is returned by a backend used after Close.
var ErrClosed = errors.New("storage: backend closed")

const badgerKeyPrefix = "e/"

// BadgerBackend stores one sealed record per asset in Badger v3 under
// the key "e/<partition>/<uid hex>".
type BadgerBackend struct {
	db     *badger.DB
	cfg    BadgerConfig
	codec  *RecordCodec
	logger *slog.Logger

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	closed    atomic.Bool
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewBadgerBackend opens (or creates) a Badger database in cfg.Dir.
func NewBadgerBackend(cfg KVConfig, codec *RecordCodec, logger *slog.Logger) (*BadgerBackend, error) {
	badgerCfg := cfg.Badger
	if cfg.Dir == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = NewRecordCodec(nil)
	}
	badgerCfg.applyDefaults()

	opts := badger.DefaultOptions(cfg.Dir)
	if badgerCfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.BlockCacheSize = badgerCfg.CacheSize
	opts.ValueLogFileSize = badgerCfg.ValueLogFileSize
	opts.NumMemtables = badgerCfg.NumMemtables
	opts.NumLevelZeroTables = badgerCfg.NumLevelZeroTables
	opts.NumLevelZeroTablesStall = badgerCfg.NumLevelZeroTablesStall
	opts.SyncWrites = badgerCfg.SyncWrites
	// Writes to one key are serialized by the engine.
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	b := &BadgerBackend{
		db:     db,
		cfg:    badgerCfg,
		codec:  codec,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if !badgerCfg.InMemory {
		b.wg.Add(1)
		go b.gcLoop()
	}

	logger.Info("badger backend started",
		"dir", cfg.Dir,
		"cache_size", badgerCfg.CacheSize,
		"sync_writes", badgerCfg.SyncWrites,
		"gc_interval", badgerCfg.GCInterval)

	return b, nil
}

func (b *BadgerBackend) Kind() string { return BackendBadger }

func badgerKey(key domain.Key) []byte {
	return []byte(badgerKeyPrefix + strconv.FormatInt(int64(key.Partition), 10) + "/" + fmt.Sprintf("%016x", key.UID))
}

func parseBadgerKey(raw []byte) (domain.Key, error) {
	s := strings.TrimPrefix(string(raw), badgerKeyPrefix)
	p, u, ok := strings.Cut(s, "/")
	if !ok {
		return domain.Key{}, fmt.Errorf("badger: bad key %q", raw)
	}
	partition, err := strconv.ParseInt(p, 10, 32)
	if err != nil {
		return domain.Key{}, fmt.Errorf("badger: bad partition in key %q: %w", raw, err)
	}
	uid, err := strconv.ParseUint(u, 16, 64)
	if err != nil {
		return domain.Key{}, fmt.Errorf("badger: bad uid in key %q: %w", raw, err)
	}
	return domain.Key{Partition: int32(partition), UID: uid}, nil
}

// Load iterates every stored record.
func (b *BadgerBackend) Load(ctx context.Context, fn func(*domain.Entry) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key, err := parseBadgerKey(item.Key())
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := b.codec.Decode(raw)
			if err != nil {
				return fmt.Errorf("badger: record %s: %w", key, err)
			}
			// A record stored under another key was moved; treat it as tampered.
			if e.Key != key {
				e = corrupt(&domain.Entry{Key: key, AllocatedSize: e.AllocatedSize, Flags: e.Flags,
					CreatedAt: e.CreatedAt, ModifiedAt: e.ModifiedAt, Version: e.Version}, e.Size())
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Put stores the sealed entry.
func (b *BadgerBackend) Put(ctx context.Context, e *domain.Entry) error {
	if b.closed.Load() {
		return ErrClosed
	}
	var rec []byte
	var err error
	if e.Corrupt {
		rec = corruptRecord(e)
	} else if rec, err = b.codec.Encode(e); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(e.Key), rec)
	})
}

// Delete removes the record of key.
func (b *BadgerBackend) Delete(ctx context.Context, key domain.Key) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
}

// GC rewrites value log files until Badger reports nothing to reclaim.
// It returns the number of files rewritten.
func (b *BadgerBackend) GC(ctx context.Context) (int, error) {
	start := time.Now()
	runs := 0
	for ctx.Err() == nil {
		err := b.db.RunValueLogGC(b.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return runs, fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}

	b.lastGCTime.Store(time.Now().UnixMilli())
	b.gcRuns.Add(uint64(runs))
	if b.metricsGCRuns != nil && runs > 0 {
		b.metricsGCRuns.Add(float64(runs))
	}

	b.logger.Debug("badger gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return runs, nil
}

// Stats returns storage statistics.
func (b *BadgerBackend) Stats() KVStats {
	lsm, vlog := b.db.Size()
	return KVStats{
		TotalSize:    uint64(lsm + vlog),
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   b.lastGCTime.Load(),
		GCRuns:       b.gcRuns.Load(),
	}
}

// Close stops background work and closes the database.
func (b *BadgerBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stopCh)
		b.wg.Wait()
		if cerr := b.db.Close(); cerr != nil {
			err = fmt.Errorf("badger: close db: %w", cerr)
		}
		b.logger.Info("badger backend closed")
	})
	return err
}

// RegisterMetrics registers Badger size and GC metrics with registry.
// service becomes a constant label so that PS and ITS can share a registry.
func (b *BadgerBackend) RegisterMetrics(registry prometheus.Registerer, service string) *BadgerBackend {
	labels := prometheus.Labels{"service": service}
	b.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "psastore",
		Subsystem:   "badger",
		Name:        "lsm_size_bytes",
		Help:        "Badger LSM tree size in bytes",
		ConstLabels: labels,
	})
	b.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "psastore",
		Subsystem:   "badger",
		Name:        "value_log_size_bytes",
		Help:        "Badger value log size in bytes",
		ConstLabels: labels,
	})
	b.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "psastore",
		Subsystem:   "badger",
		Name:        "last_gc_timestamp_seconds",
		Help:        "Unix timestamp of the last Badger GC run",
		ConstLabels: labels,
	})
	b.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "psastore",
		Subsystem:   "badger",
		Name:        "gc_rewrites_total",
		Help:        "Value log files rewritten by Badger garbage collection",
		ConstLabels: labels,
	})

	registry.MustRegister(
		b.metricsLSMSize,
		b.metricsValueLogSize,
		b.metricsLastGCTime,
		b.metricsGCRuns,
	)
	b.updateMetrics()

	b.wg.Add(1)
	go b.metricsUpdateLoop()
	return b
}

func (b *BadgerBackend) updateMetrics() {
	stats := b.Stats()
	b.metricsLSMSize.Set(float64(stats.LSMSize))
	b.metricsValueLogSize.Set(float64(stats.ValueLogSize))
	if stats.LastGCTime > 0 {
		b.metricsLastGCTime.Set(float64(stats.LastGCTime) / 1000.0)
	}
}

func (b *BadgerBackend) metricsUpdateLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.updateMetrics()
		case <-b.stopCh:
			return
		}
	}
}

func (b *BadgerBackend) gcLoop() {
	defer b.wg.Done()

	interval, err := time.ParseDuration(b.cfg.GCInterval)
	if err != nil || interval <= 0 {
		b.logger.Error("invalid gc_interval, using default 10m", "value", b.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := b.GC(ctx); err != nil {
				b.logger.Error("badger gc failed", "error", err)
			}
			cancel()
		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
