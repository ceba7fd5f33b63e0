package benchmark

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/wal"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

// AssetCounts are the store sizes used by scaling benchmarks.
var AssetCounts = []int{1000, 10000, 50000}

// SmallAssetCounts for quick benchmarks.
var SmallAssetCounts = []int{1000, 5000}

// PayloadSizes covers a key handle, a certificate and a larger blob.
var PayloadSizes = []int{32, 1024, 16 * 1024}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// payload returns n random bytes.
func payload(b *testing.B, n int) []byte {
	b.Helper()
	p := make([]byte, n)
	if _, err := rand.Read(p); err != nil {
		b.Fatal(err)
	}
	return p
}

// benchCipher returns a record cipher for sealed benchmarks.
func benchCipher(b *testing.B) adaptive.Cipher {
	b.Helper()
	c, err := adaptive.ForService(make([]byte, 32), "bench", "")
	if err != nil {
		b.Fatal(err)
	}
	return c
}

// newMemoryService returns a PS service on the memory backend.
func newMemoryService(b *testing.B) (*service.StorageService, *storage.Engine) {
	b.Helper()
	return newService(b, storage.NewMemoryBackend())
}

// newLogService returns a PS service on a log backend in a temp dir.
func newLogService(b *testing.B, dir string, mode wal.SyncMode, sealed bool) (*service.StorageService, *storage.Engine) {
	b.Helper()
	var c adaptive.Cipher
	if sealed {
		c = benchCipher(b)
	}
	lc := storage.DefaultLogConfig(dir)
	lc.Service = service.ServicePS
	lc.WAL.SyncMode = mode
	backend, err := storage.NewLogBackend(lc, storage.NewRecordCodec(c), quiet)
	if err != nil {
		b.Fatalf("NewLogBackend: %v", err)
	}
	return newService(b, backend)
}

func newService(b *testing.B, backend storage.Backend) (*service.StorageService, *storage.Engine) {
	b.Helper()
	cfg := storage.DefaultConfig(service.ServicePS)
	cfg.Logger = quiet
	cfg.SnapshotInterval = 0
	e, err := storage.New(cfg, backend)
	if err != nil {
		b.Fatalf("storage.New: %v", err)
	}
	if err := e.Recover(context.Background()); err != nil {
		b.Fatalf("Recover: %v", err)
	}
	b.Cleanup(func() { e.Close() })
	return service.NewStorageService(service.ServicePS, e, service.DefaultPSOptions()), e
}

// prefill stores count assets of size bytes under UIDs 1..count.
func prefill(b *testing.B, svc *service.StorageService, count, size int) {
	b.Helper()
	ctx := context.Background()
	data := payload(b, size)
	for i := 1; i <= count; i++ {
		if err := svc.Set(ctx, 1, uint64(i), uint32(size), data, domain.FlagNone); err != nil {
			b.Fatalf("prefill %d: %v", i, err)
		}
	}
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithAssetCounts runs benchFn once per store size.
func runWithAssetCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("assets_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}

// runWithPayloadSizes runs benchFn once per payload size.
func runWithPayloadSizes(b *testing.B, benchFn func(b *testing.B, size int)) {
	for _, size := range PayloadSizes {
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			benchFn(b, size)
		})
	}
}
