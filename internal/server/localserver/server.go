package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/telemetry/metric"
	"github.com/yndnr/psastore-go/pkg/ipc"
)

// Storage is a storage service reachable over IPC.
// *service.StorageService implements it.
type Storage interface {
	Name() string
	Set(ctx context.Context, partition int32, uid uint64, length uint32, data []byte, flags domain.CreateFlags) error
	Create(ctx context.Context, partition int32, uid uint64, size uint32, flags domain.CreateFlags) error
	SetExtended(ctx context.Context, partition int32, uid uint64, offset, length uint32, data []byte) error
	Get(ctx context.Context, partition int32, uid uint64, offset, length uint32, buf []byte) error
	GetInfo(ctx context.Context, partition int32, uid uint64, info *domain.Info) error
	Remove(ctx context.Context, partition int32, uid uint64) error
	GetSupport() uint32
}

// Config configures the local server.
type Config struct {
	// Path is the socket file. A stale socket at Path is replaced.
	Path string

	// Mode is the permission of the socket file.
	Mode os.FileMode

	// DefaultPartition is used when peer credentials cannot be read.
	DefaultPartition int32

	// MaxConnections bounds concurrent connections. 0 means unlimited.
	MaxConnections int

	// MaxMessageSize bounds request and response frames.
	MaxMessageSize int

	// RateLimit is the per-partition call rate. 0 disables limiting.
	RateLimit float64
	RateBurst int

	// IdleTimeout closes connections without requests for this long.
	IdleTimeout time.Duration
}

// PartitionFunc resolves the caller partition of a connection.
type PartitionFunc func(net.Conn) (int32, bool)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables connection metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPartitionFunc replaces peer credential lookup.
func WithPartitionFunc(fn PartitionFunc) Option {
	return func(s *Server) { s.partitionOf = fn }
}

type registered struct {
	svc     Storage
	version uint32
}

// Server is the local IPC server.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	metrics     *metric.Registry
	partitionOf PartitionFunc
	limiters    *limiterRegistry

	mu       sync.Mutex
	services map[uint32]registered
	listener net.Listener
	conns    map[*conn]struct{}

	running atomic.Bool
	active  atomic.Int64
	wg      sync.WaitGroup
}

// New creates a local server. Services are added with Register.
func New(cfg Config, opts ...Option) *Server {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = ipc.DefaultMaxFrameSize
	}
	s := &Server{
		cfg:         cfg,
		logger:      slog.Default(),
		partitionOf: peerPartition,
		limiters:    newLimiterRegistry(cfg.RateLimit, cfg.RateBurst),
		services:    make(map[uint32]registered),
		conns:       make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sizeLimiter is implemented by services that accept a transport cap on
// asset size. *service.StorageService implements it.
type sizeLimiter interface {
	LimitAssetSize(limit uint32)
}

// MaxPayload returns the largest asset content a response frame of
// maxMessageSize bytes can carry.
func MaxPayload(maxMessageSize int) uint32 {
	if maxMessageSize <= responseOverhead {
		return 0
	}
	n := uint64(maxMessageSize - responseOverhead)
	if n > uint64(domain.MaxAssetSize) {
		return domain.MaxAssetSize
	}
	return uint32(n)
}

// Register exposes svc under sid at the current service version. Services
// that support it are capped to assets a get response can carry, so every
// asset stored over IPC can be read back in one call.
func (s *Server) Register(sid uint32, svc Storage) {
	if l, ok := svc.(sizeLimiter); ok {
		l.LimitAssetSize(MaxPayload(s.cfg.MaxMessageSize))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[sid] = registered{svc: svc, version: ipc.ServiceVersion}
}

func (s *Server) lookup(sid uint32) (registered, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.services[sid]
	return r, ok
}

// Addr returns the listening address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe creates the socket and serves connections until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := removeStaleSocket(s.cfg.Path); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Path, err)
	}
	if s.cfg.Mode != 0 {
		if err := os.Chmod(s.cfg.Path, s.cfg.Mode); err != nil {
			l.Close()
			return fmt.Errorf("chmod %s: %w", s.cfg.Path, err)
		}
	}
	return s.Serve(l)
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.running.Store(true)

	s.logger.Info("local server listening", "addr", l.Addr().String())

	for {
		nc, err := l.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if max := s.cfg.MaxConnections; max > 0 && s.active.Load() >= int64(max) {
			s.reject("max_connections")
			s.logger.Warn("connection rejected", "reason", "max_connections")
			nc.Close()
			continue
		}

		c := s.newConn(nc)
		s.track(c, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(c, false)
			c.serve()
		}()
	}
}

func (s *Server) track(c *conn, add bool) {
	s.mu.Lock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	s.mu.Unlock()

	var n int64
	if add {
		n = s.active.Add(1)
	} else {
		n = s.active.Add(-1)
	}
	if s.metrics != nil {
		s.metrics.IPCConnections.Set(float64(n))
	}
}

func (s *Server) reject(reason string) {
	if s.metrics != nil {
		s.metrics.IPCRejected.WithLabelValues(reason).Inc()
	}
}

// Shutdown stops accepting connections, lets in-flight requests finish and
// removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	s.mu.Lock()
	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}
	for c := range s.conns {
		c.interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.cfg.Path != "" {
		if err := os.Remove(s.cfg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) && closeErr == nil {
			closeErr = err
		}
	}
	if errors.Is(closeErr, net.ErrClosed) {
		return nil
	}
	return closeErr
}
