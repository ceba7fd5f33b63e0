package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/storage/wal"
)

const testNow = int64(1700000000000)

// setData installs data under key, creating the entry when absent.
func setData(cur *domain.Entry, key domain.Key, data []byte) *domain.Entry {
	if cur == nil {
		return domain.NewEntry(key, data, uint32(len(data)), domain.FlagNone, testNow)
	}
	return cur.WithData(data, testNow)
}

func put(t *testing.T, e *Engine, key domain.Key, data string) {
	t.Helper()
	err := e.Update(context.Background(), key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return setData(cur, key, []byte(data)), false, nil
	})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func remove(t *testing.T, e *Engine, key domain.Key) {
	t.Helper()
	err := e.Update(context.Background(), key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return nil, true, nil
	})
	if err != nil {
		t.Fatalf("remove %s: %v", key, err)
	}
}

func mustGet(t *testing.T, e *Engine, key domain.Key, want string) {
	t.Helper()
	got, ok := e.Get(key)
	if !ok {
		t.Fatalf("Get(%s): not found", key)
	}
	if string(got.Data) != want {
		t.Fatalf("Get(%s) = %q, want %q", key, got.Data, want)
	}
}

func newRecoveredEngine(t *testing.T, cfg Config, b Backend) *Engine {
	t.Helper()
	e, err := New(cfg, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	return e
}

func openLog(t *testing.T, dir string, codec *RecordCodec) *LogBackend {
	t.Helper()
	b, err := NewLogBackend(DefaultLogConfig(dir), codec, nil)
	if err != nil {
		t.Fatalf("NewLogBackend: %v", err)
	}
	return b
}

func TestEngine_New(t *testing.T) {
	if _, err := New(DefaultConfig("ps"), nil); err == nil {
		t.Fatal("expected error for missing backend")
	}

	cfg := DefaultConfig("its")
	if cfg.SnapshotInterval != DefaultSnapshotInterval {
		t.Errorf("SnapshotInterval = %v, want %v", cfg.SnapshotInterval, DefaultSnapshotInterval)
	}
	e, err := New(cfg, NewMemoryBackend())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	if e.Ready() {
		t.Error("engine ready before Recover")
	}
	if e.Service() != "its" {
		t.Errorf("Service = %q", e.Service())
	}
}

func TestEngine_Update(t *testing.T) {
	e := newRecoveredEngine(t, DefaultConfig("ps"), NewMemoryBackend())
	defer e.Close()
	k := domain.Key{Partition: 1, UID: 1}

	t.Run("create and replace", func(t *testing.T) {
		put(t, e, k, "one")
		mustGet(t, e, k, "one")
		put(t, e, k, "two!")
		mustGet(t, e, k, "two!")
		if got, _ := e.Get(k); got.Version != 2 {
			t.Errorf("Version = %d, want 2", got.Version)
		}
		if e.UsedBytes() != 4 {
			t.Errorf("UsedBytes = %d, want 4", e.UsedBytes())
		}
	})

	t.Run("fn error leaves state", func(t *testing.T) {
		boom := errors.New("boom")
		err := e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
			return nil, false, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		mustGet(t, e, k, "two!")
	})

	t.Run("no-op", func(t *testing.T) {
		err := e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
			return cur, false, nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got, _ := e.Get(k); got.Version != 2 {
			t.Errorf("Version = %d, want 2", got.Version)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		err := e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
			return domain.NewEntry(domain.Key{Partition: 9, UID: 9}, nil, 0, 0, testNow), false, nil
		})
		if err == nil {
			t.Fatal("expected error for mismatched key")
		}
	})

	t.Run("remove", func(t *testing.T) {
		remove(t, e, k)
		if _, ok := e.Get(k); ok {
			t.Fatal("entry still present after remove")
		}
		if e.UsedBytes() != 0 || e.Count() != 0 {
			t.Errorf("UsedBytes = %d, Count = %d, want 0", e.UsedBytes(), e.Count())
		}
		// Removing an absent key is a no-op at this layer.
		remove(t, e, k)
	})
}

func TestEngine_Limits(t *testing.T) {
	cfg := DefaultConfig("ps")
	cfg.Capacity = 10
	cfg.MaxAssets = 2
	e := newRecoveredEngine(t, cfg, NewMemoryBackend())
	defer e.Close()

	put(t, e, domain.Key{Partition: 1, UID: 1}, "12345")
	put(t, e, domain.Key{Partition: 1, UID: 2}, "1234")

	err := e.Update(context.Background(), domain.Key{Partition: 1, UID: 3}, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return setData(cur, domain.Key{Partition: 1, UID: 3}, []byte("1")), false, nil
	})
	if domain.StatusOf(err) != domain.StatusInsufficientSpace {
		t.Fatalf("third asset: status = %v, want INSUFFICIENT_SPACE", domain.StatusOf(err))
	}

	err = e.Update(context.Background(), domain.Key{Partition: 1, UID: 1}, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return cur.WithData([]byte("1234567"), testNow), false, nil
	})
	if domain.StatusOf(err) != domain.StatusInsufficientSpace {
		t.Fatalf("grow past capacity: status = %v, want INSUFFICIENT_SPACE", domain.StatusOf(err))
	}
	mustGet(t, e, domain.Key{Partition: 1, UID: 1}, "12345")

	// Another partition has its own asset quota.
	put(t, e, domain.Key{Partition: 2, UID: 1}, "1")
}

type failingBackend struct {
	*MemoryBackend
	mu   sync.Mutex
	fail bool
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *failingBackend) Put(ctx context.Context, e *domain.Entry) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return b.MemoryBackend.Put(ctx, e)
}

func (b *failingBackend) Delete(ctx context.Context, key domain.Key) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return b.MemoryBackend.Delete(ctx, key)
}

func TestEngine_BackendFailure(t *testing.T) {
	cfg := DefaultConfig("ps")
	cfg.Capacity = 8
	fb := &failingBackend{MemoryBackend: NewMemoryBackend()}
	e := newRecoveredEngine(t, cfg, fb)
	defer e.Close()

	k := domain.Key{Partition: 1, UID: 1}
	put(t, e, k, "abcd")

	fb.setFail(true)
	err := e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return cur.WithData([]byte("abcdefgh"), testNow), false, nil
	})
	if domain.StatusOf(err) != domain.StatusStorageFailure {
		t.Fatalf("status = %v, want STORAGE_FAILURE", domain.StatusOf(err))
	}
	mustGet(t, e, k, "abcd")
	if e.UsedBytes() != 4 {
		t.Fatalf("UsedBytes = %d after failed write, want 4", e.UsedBytes())
	}

	err = e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return nil, true, nil
	})
	if domain.StatusOf(err) != domain.StatusStorageFailure {
		t.Fatalf("remove status = %v, want STORAGE_FAILURE", domain.StatusOf(err))
	}
	mustGet(t, e, k, "abcd")

	fb.setFail(false)
	put(t, e, k, "abcdefgh")
}

func TestEngine_Closed(t *testing.T) {
	e := newRecoveredEngine(t, DefaultConfig("ps"), NewMemoryBackend())
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err := e.Update(context.Background(), domain.Key{UID: 1}, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		return nil, true, nil
	})
	if !errors.Is(err, domain.ErrStorageClosed) {
		t.Fatalf("err = %v, want ErrStorageClosed", err)
	}
	if e.Ready() {
		t.Fatal("closed engine reports ready")
	}
}

func TestEngine_SnapshotNotSupported(t *testing.T) {
	e := newRecoveredEngine(t, DefaultConfig("ps"), NewMemoryBackend())
	defer e.Close()

	if _, err := e.TriggerSnapshot(context.Background()); !errors.Is(err, domain.ErrOperationNotSupported) {
		t.Fatalf("err = %v, want ErrOperationNotSupported", err)
	}
}

func TestEngine_PersistenceAcrossRestart(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) Backend{
		"log": func(t *testing.T, dir string) Backend {
			return openLog(t, dir, NewRecordCodec(testCipher(t, 0x11)))
		},
		"badger": func(t *testing.T, dir string) Backend {
			b, err := NewBadgerBackend(DefaultKVConfig(dir), NewRecordCodec(testCipher(t, 0x11)), nil)
			if err != nil {
				t.Fatalf("NewBadgerBackend: %v", err)
			}
			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()

			e := newRecoveredEngine(t, DefaultConfig("ps"), open(t, dir))
			put(t, e, domain.Key{Partition: 1, UID: 1}, "first")
			put(t, e, domain.Key{Partition: 1, UID: 2}, "second")
			put(t, e, domain.Key{Partition: -5, UID: 1}, "other partition")
			put(t, e, domain.Key{Partition: 1, UID: 1}, "first, updated")
			put(t, e, domain.Key{Partition: 1, UID: 3}, "")
			remove(t, e, domain.Key{Partition: 1, UID: 2})
			if err := e.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			e = newRecoveredEngine(t, DefaultConfig("ps"), open(t, dir))
			defer e.Close()

			mustGet(t, e, domain.Key{Partition: 1, UID: 1}, "first, updated")
			mustGet(t, e, domain.Key{Partition: -5, UID: 1}, "other partition")
			mustGet(t, e, domain.Key{Partition: 1, UID: 3}, "")
			if _, ok := e.Get(domain.Key{Partition: 1, UID: 2}); ok {
				t.Fatal("removed asset came back")
			}
			if got, _ := e.Get(domain.Key{Partition: 1, UID: 1}); got.Version != 2 {
				t.Fatalf("Version = %d, want 2", got.Version)
			}
			if e.Count() != 3 {
				t.Fatalf("Count = %d, want 3", e.Count())
			}
			if e.UsedBytes() != uint64(len("first, updated")+len("other partition")) {
				t.Fatalf("UsedBytes = %d", e.UsedBytes())
			}
		})
	}
}

func TestEngine_MemoryBackendSurvivesEngineRestart(t *testing.T) {
	b := NewMemoryBackend()
	e := newRecoveredEngine(t, DefaultConfig("its"), b)
	put(t, e, domain.Key{Partition: 1, UID: 7}, "volatile")
	e.Close()

	e = newRecoveredEngine(t, DefaultConfig("its"), b)
	defer e.Close()
	mustGet(t, e, domain.Key{Partition: 1, UID: 7}, "volatile")
}

func TestEngine_SnapshotAndCompaction(t *testing.T) {
	dir := t.TempDir()
	codec := NewRecordCodec(testCipher(t, 0x22))

	e := newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, codec))
	for i := 0; i < 50; i++ {
		put(t, e, domain.Key{Partition: 1, UID: uint64(i)}, fmt.Sprintf("value-%d", i))
	}

	for round := 0; round < 3; round++ {
		info, err := e.TriggerSnapshot(context.Background())
		if err != nil {
			t.Fatalf("TriggerSnapshot: %v", err)
		}
		if info.RecordCount != 50 {
			t.Fatalf("RecordCount = %d, want 50", info.RecordCount)
		}
		put(t, e, domain.Key{Partition: 1, UID: 0}, fmt.Sprintf("round-%d", round))
	}
	if e.Stats().LastSnapshot == nil {
		t.Fatal("Stats.LastSnapshot not set")
	}
	if w := e.Stats().WAL; w == nil || w.Segments == 0 || w.Bytes == 0 {
		t.Fatalf("Stats.WAL = %+v", w)
	}

	// Writes after the last snapshot live only in the WAL.
	remove(t, e, domain.Key{Partition: 1, UID: 49})
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	u, err := wal.NewCompactor(filepath.Join(dir, DefaultWALDir)).Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Segments > wal.DefaultRetainCount+1 {
		t.Fatalf("WAL segments = %d after compaction", u.Segments)
	}

	e = newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, codec))
	defer e.Close()
	mustGet(t, e, domain.Key{Partition: 1, UID: 0}, "round-2")
	mustGet(t, e, domain.Key{Partition: 1, UID: 48}, "value-48")
	if _, ok := e.Get(domain.Key{Partition: 1, UID: 49}); ok {
		t.Fatal("asset removed after snapshot came back")
	}
	if e.Count() != 49 {
		t.Fatalf("Count = %d, want 49", e.Count())
	}
}

func TestEngine_RecoverCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	codec := NewRecordCodec(testCipher(t, 0x33))

	e := newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, codec))
	put(t, e, domain.Key{Partition: 1, UID: 1}, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	put(t, e, domain.Key{Partition: 1, UID: 2}, "intact")
	if _, err := e.TriggerSnapshot(context.Background()); err != nil {
		t.Fatalf("TriggerSnapshot: %v", err)
	}
	e.Close()

	// Reopen with a different key: every record fails authentication.
	e = newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, NewRecordCodec(testCipher(t, 0x44))))
	got, ok := e.Get(domain.Key{Partition: 1, UID: 1})
	if !ok || !got.Corrupt {
		t.Fatalf("expected corrupt entry, got %+v", got)
	}
	if e.UsedBytes() != 32+6 {
		t.Fatalf("UsedBytes = %d, want 38", e.UsedBytes())
	}

	// Snapshots carry corrupt entries forward.
	if _, err := e.TriggerSnapshot(context.Background()); err != nil {
		t.Fatalf("TriggerSnapshot: %v", err)
	}
	e.Close()

	e = newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, codec))
	defer e.Close()
	if got, _ := e.Get(domain.Key{Partition: 1, UID: 1}); got == nil || !got.Corrupt {
		t.Fatal("corrupt entry healed after snapshot")
	}
}

func TestEngine_RecoverTornWALTail(t *testing.T) {
	dir := t.TempDir()
	e := newRecoveredEngine(t, DefaultConfig("its"), openLog(t, dir, nil))
	put(t, e, domain.Key{Partition: 1, UID: 1}, "kept")
	e.Close()

	walDir := filepath.Join(dir, DefaultWALDir)
	entries, err := os.ReadDir(walDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("ReadDir: %v (%d entries)", err, len(entries))
	}
	last := filepath.Join(walDir, entries[len(entries)-1].Name())
	f, err := os.OpenFile(last, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f.Write([]byte{0x00, 0x00, 0x01, 0x00, 0xde, 0xad})
	f.Close()

	e = newRecoveredEngine(t, DefaultConfig("its"), openLog(t, dir, nil))
	defer e.Close()
	mustGet(t, e, domain.Key{Partition: 1, UID: 1}, "kept")
	put(t, e, domain.Key{Partition: 1, UID: 2}, "after")
}

func TestEngine_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	e := newRecoveredEngine(t, DefaultConfig("ps"), openLog(t, dir, NewRecordCodec(testCipher(t, 0x55))))
	defer e.Close()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				k := domain.Key{Partition: int32(w), UID: uint64(i)}
				err := e.Update(context.Background(), k, func(cur *domain.Entry) (*domain.Entry, bool, error) {
					return setData(cur, k, []byte(fmt.Sprintf("%d/%d", w, i))), false, nil
				})
				if err != nil {
					t.Errorf("Update: %v", err)
					return
				}
			}
		}(w)
	}

	// Same-key writers interleave with snapshots; each update appends one byte.
	shared := domain.Key{Partition: 99, UID: 1}
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := e.Update(context.Background(), shared, func(cur *domain.Entry) (*domain.Entry, bool, error) {
				var data []byte
				if cur != nil {
					data = append(data, cur.Data...)
				}
				return setData(cur, shared, append(data, 'x')), false, nil
			})
			if err != nil {
				t.Errorf("shared Update: %v", err)
			}
			if i%10 == 0 {
				if _, err := e.TriggerSnapshot(context.Background()); err != nil {
					t.Errorf("TriggerSnapshot: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if e.Count() != workers*perWorker+1 {
		t.Fatalf("Count = %d, want %d", e.Count(), workers*perWorker+1)
	}
	mustGet(t, e, shared, string(bytes.Repeat([]byte{'x'}, 40)))
}

func TestEngine_BackgroundSnapshot(t *testing.T) {
	cfg := DefaultConfig("ps")
	cfg.SnapshotInterval = 20 * time.Millisecond
	e := newRecoveredEngine(t, cfg, openLog(t, t.TempDir(), nil))
	defer e.Close()

	put(t, e, domain.Key{Partition: 1, UID: 1}, "tick")

	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().LastSnapshot == nil {
		if time.Now().After(deadline) {
			t.Fatal("background snapshot never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"", BackendLog, BackendBadger, BackendMemory} {
		b, err := Open(BackendConfig{Kind: kind, Dir: filepath.Join(dir, "k"+kind), Service: "ps"}, nil, nil)
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		want := kind
		if want == "" {
			want = BackendLog
		}
		if b.Kind() != want {
			t.Errorf("Kind = %q, want %q", b.Kind(), want)
		}
		b.Close()
	}

	if _, err := Open(BackendConfig{Kind: "tape", Dir: dir}, nil, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
