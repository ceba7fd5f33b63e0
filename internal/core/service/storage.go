package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/storage"
)

// Service names.
const (
	ServicePS  = "ps"
	ServiceITS = "its"
)

// Operation names, used by metrics and transports.
const (
	OpSet         = "set"
	OpGet         = "get"
	OpGetInfo     = "get_info"
	OpRemove      = "remove"
	OpCreate      = "create"
	OpSetExtended = "set_extended"
	OpGetSupport  = "get_support"
)

// Support bits reported by GetSupport.
const (
	SupportCreate      uint32 = 1 << 0
	SupportSetExtended uint32 = 1 << 1
)

// AssetRepository is the storage a StorageService runs on.
// *storage.Engine implements it.
type AssetRepository interface {
	// Get returns the published entry of key. The entry must not be modified.
	Get(key domain.Key) (*domain.Entry, bool)

	// Update atomically replaces the entry of key with the result of fn.
	Update(ctx context.Context, key domain.Key, fn storage.UpdateFunc) error
}

// Recorder receives one observation per completed operation.
type Recorder interface {
	ObserveOperation(service, op string, status domain.Status, elapsed time.Duration)
}

// Capabilities selects the optional operations of a service.
type Capabilities struct {
	Create      bool `json:"create"`
	SetExtended bool `json:"set_extended"`
	Offsets     bool `json:"offsets"`
}

// Limits bounds the space a service may use. Zero means unlimited.
// Capacity and MaxAssets are enforced by the engine; see Apply.
type Limits struct {
	Capacity     uint64 `json:"capacity"`
	MaxAssetSize uint32 `json:"max_asset_size"`
	MaxAssets    int    `json:"max_assets"`
}

// Apply copies the engine-enforced limits into cfg.
func (l Limits) Apply(cfg *storage.Config) {
	cfg.Capacity = l.Capacity
	cfg.MaxAssets = l.MaxAssets
}

// Options configures a StorageService.
type Options struct {
	Capabilities Capabilities
	Limits       Limits

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time

	// Recorder observes every operation. Optional.
	Recorder Recorder
}

// DefaultPSOptions enables every optional operation, as a PS service does.
func DefaultPSOptions() Options {
	return Options{Capabilities: Capabilities{Create: true, SetExtended: true, Offsets: true}}
}

// DefaultITSOptions disables the optional operations, as an ITS service does.
func DefaultITSOptions() Options {
	return Options{Capabilities: Capabilities{Offsets: true}}
}

// StorageService implements the PSA storage operations for one service
// (PS or ITS) on top of an AssetRepository.
//
// Every method returns nil or a *domain.DomainError; domain.StatusOf maps
// the result to a PSA status. Arguments are validated in a fixed order:
// pointers, then checks that need no entry, then existence, write-once,
// checks against the entry and finally space. A rejected call never
// changes stored state.
type StorageService struct {
	name string
	repo AssetRepository
	opts Options
	now  func() time.Time

	// sizeCap is a transport limit on asset size. Zero means none.
	sizeCap atomic.Uint32
}

// NewStorageService creates a service named name ("ps" or "its").
func NewStorageService(name string, repo AssetRepository, opts Options) *StorageService {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &StorageService{
		name: name,
		repo: repo,
		opts: opts,
		now:  now,
	}
}

// Name returns the service name.
func (s *StorageService) Name() string {
	return s.name
}

// Capabilities returns the enabled optional operations.
func (s *StorageService) Capabilities() Capabilities {
	return s.opts.Capabilities
}

// Limits returns the limits in effect, including any transport cap.
func (s *StorageService) Limits() Limits {
	l := s.opts.Limits
	if c := s.sizeCap.Load(); c != 0 && (l.MaxAssetSize == 0 || c < l.MaxAssetSize) {
		l.MaxAssetSize = c
	}
	return l
}

// LimitAssetSize lowers the per-asset size limit to limit for a transport
// that cannot return larger assets. Zero, or a value above the current
// cap, has no effect.
func (s *StorageService) LimitAssetSize(limit uint32) {
	for {
		cur := s.sizeCap.Load()
		if limit == 0 || (cur != 0 && cur <= limit) {
			return
		}
		if s.sizeCap.CompareAndSwap(cur, limit) {
			return
		}
	}
}

func (s *StorageService) observe(op string, start time.Time, err error) error {
	if s.opts.Recorder != nil {
		s.opts.Recorder.ObserveOperation(s.name, op, domain.StatusOf(err), time.Since(start))
	}
	return err
}

func (s *StorageService) nowMillis() int64 {
	return s.now().UnixMilli()
}

// checkSize rejects assets larger than the per-asset limit.
func (s *StorageService) checkSize(size uint64) error {
	limit := uint64(domain.MaxAssetSize)
	if l := s.Limits().MaxAssetSize; l > 0 {
		limit = uint64(l)
	}
	if size > limit {
		return domain.ErrInsufficientSpace.WithDetails(fmt.Sprintf("asset size %d exceeds limit %d", size, limit))
	}
	return nil
}

// Set creates the asset uid with the first length bytes of data, or
// replaces the content of an existing mutable asset.
//
// data may be nil only when length is zero. flags must be zero when the
// asset already exists.
func (s *StorageService) Set(ctx context.Context, partition int32, uid uint64, length uint32, data []byte, flags domain.CreateFlags) (err error) {
	defer func(start time.Time) { err = s.observe(OpSet, start, err) }(time.Now())

	if (data == nil && length > 0) || uint64(len(data)) < uint64(length) {
		return domain.ErrBadPointer.WithDetails("data buffer shorter than length")
	}
	if !flags.Supported() {
		return domain.ErrFlagsNotSupported.WithDetails(flags.String())
	}

	key := domain.Key{Partition: partition, UID: uid}
	content := data[:length]
	return s.repo.Update(ctx, key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		if cur != nil {
			if cur.IsWriteOnce() {
				return nil, false, domain.ErrWriteOnce
			}
			if flags != domain.FlagNone {
				return nil, false, domain.ErrFlagsSetAfterCreate
			}
			if err := s.checkSize(uint64(length)); err != nil {
				return nil, false, err
			}
			next := cur.WithData(content, s.nowMillis())
			// Full replacement drops a failed authentication state.
			next.Corrupt = false
			return next, false, nil
		}

		if err := s.checkSize(uint64(length)); err != nil {
			return nil, false, err
		}
		return domain.NewEntry(key, content, length, flags, s.nowMillis()), false, nil
	})
}

// Create reserves size bytes for uid without writing content. Calling it
// again with the same size and flags succeeds and keeps the content.
func (s *StorageService) Create(ctx context.Context, partition int32, uid uint64, size uint32, flags domain.CreateFlags) (err error) {
	defer func(start time.Time) { err = s.observe(OpCreate, start, err) }(time.Now())

	if !s.opts.Capabilities.Create {
		return domain.ErrOperationNotSupported.WithDetails("create is disabled")
	}
	if !flags.Supported() {
		return domain.ErrFlagsNotSupported.WithDetails(flags.String())
	}

	key := domain.Key{Partition: partition, UID: uid}
	return s.repo.Update(ctx, key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		if cur != nil {
			if cur.Corrupt {
				return nil, false, domain.ErrDataCorrupt
			}
			if cur.AllocatedSize == size && cur.Flags == flags {
				return cur, false, nil
			}
			return nil, false, domain.ErrInvalidKey.WithDetails(
				fmt.Sprintf("asset exists with size %d flags %s", cur.AllocatedSize, cur.Flags))
		}

		if err := s.checkSize(uint64(size)); err != nil {
			return nil, false, err
		}
		return domain.NewEntry(key, nil, size, flags, s.nowMillis()), false, nil
	})
}

// SetExtended writes length bytes of data at offset inside the space
// reserved for uid. The asset size grows to offset+length when larger.
func (s *StorageService) SetExtended(ctx context.Context, partition int32, uid uint64, offset, length uint32, data []byte) (err error) {
	defer func(start time.Time) { err = s.observe(OpSetExtended, start, err) }(time.Now())

	if !s.opts.Capabilities.SetExtended {
		return domain.ErrOperationNotSupported.WithDetails("set_extended is disabled")
	}
	if (data == nil && length > 0) || uint64(len(data)) < uint64(length) {
		return domain.ErrBadPointer.WithDetails("data buffer shorter than length")
	}

	key := domain.Key{Partition: partition, UID: uid}
	end := uint64(offset) + uint64(length)
	content := data[:length]
	return s.repo.Update(ctx, key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		if cur == nil {
			return nil, false, domain.ErrInvalidKey.WithDetails("asset does not exist")
		}
		if cur.IsWriteOnce() {
			return nil, false, domain.ErrWriteOnce
		}
		if cur.Corrupt {
			return nil, false, domain.ErrDataCorrupt
		}
		if end > cur.Footprint() {
			return nil, false, domain.ErrOffsetInvalid.WithDetails(
				fmt.Sprintf("offset %d + length %d exceeds allocated size %d", offset, length, cur.Footprint()))
		}
		return cur.WithRange(offset, content, s.nowMillis()), false, nil
	})
}

// Get copies length bytes of uid starting at offset into buf.
func (s *StorageService) Get(ctx context.Context, partition int32, uid uint64, offset, length uint32, buf []byte) (err error) {
	defer func(start time.Time) { err = s.observe(OpGet, start, err) }(time.Now())

	if buf == nil || uint64(len(buf)) < uint64(length) {
		return domain.ErrBadPointer.WithDetails("output buffer shorter than length")
	}
	if offset != 0 && !s.opts.Capabilities.Offsets {
		return domain.ErrOffsetNotSupported
	}

	e, ok := s.repo.Get(domain.Key{Partition: partition, UID: uid})
	if !ok {
		return domain.ErrKeyNotFound
	}
	if e.Corrupt {
		return domain.ErrDataCorrupt
	}

	size := e.Size()
	if offset > size {
		return domain.ErrOffsetInvalid.WithDetails(fmt.Sprintf("offset %d beyond size %d", offset, size))
	}
	if uint64(offset)+uint64(length) > uint64(size) {
		return domain.ErrIncorrectSize.WithDetails(fmt.Sprintf("offset %d + length %d exceeds size %d", offset, length, size))
	}
	e.ReadAt(buf, offset, length)
	return nil
}

// GetInfo stores the size, capacity and flags of uid in info.
func (s *StorageService) GetInfo(ctx context.Context, partition int32, uid uint64, info *domain.Info) (err error) {
	defer func(start time.Time) { err = s.observe(OpGetInfo, start, err) }(time.Now())

	if info == nil {
		return domain.ErrBadPointer.WithDetails("info is nil")
	}

	e, ok := s.repo.Get(domain.Key{Partition: partition, UID: uid})
	if !ok {
		return domain.ErrKeyNotFound
	}
	if e.Corrupt {
		return domain.ErrDataCorrupt
	}
	*info = e.Info()
	return nil
}

// Remove deletes uid and releases its space.
func (s *StorageService) Remove(ctx context.Context, partition int32, uid uint64) (err error) {
	defer func(start time.Time) { err = s.observe(OpRemove, start, err) }(time.Now())

	key := domain.Key{Partition: partition, UID: uid}
	return s.repo.Update(ctx, key, func(cur *domain.Entry) (*domain.Entry, bool, error) {
		if cur == nil {
			return nil, false, domain.ErrKeyNotFound
		}
		if cur.IsWriteOnce() {
			return nil, false, domain.ErrWriteOnce
		}
		return nil, true, nil
	})
}

// GetSupport returns the bitmask of enabled optional operations.
func (s *StorageService) GetSupport() uint32 {
	var bits uint32
	if s.opts.Capabilities.Create {
		bits |= SupportCreate
	}
	if s.opts.Capabilities.SetExtended {
		bits |= SupportSetExtended
	}
	return bits
}
