package localserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/psastore-go/internal/core/domain"
	"github.com/yndnr/psastore-go/internal/telemetry/logger"
	"github.com/yndnr/psastore-go/pkg/ipc"
)

// responseOverhead is reserved in a response frame for fields other than data.
const responseOverhead = 64

// conn is one client connection and its open handles.
type conn struct {
	srv       *Server
	nc        net.Conn
	partition int32
	limiter   *rate.Limiter
	logger    *slog.Logger

	handles    map[uint32]registered
	nextHandle uint32

	mu      sync.Mutex
	closing bool
}

func (s *Server) newConn(nc net.Conn) *conn {
	partition, ok := s.partitionOf(nc)
	if !ok {
		partition = s.cfg.DefaultPartition
	}
	return &conn{
		srv:       s,
		nc:        nc,
		partition: partition,
		limiter:   s.limiters.get(partition),
		logger:    s.logger.With("partition", partition),
		handles:   make(map[uint32]registered),
	}
}

// interrupt unblocks a connection waiting for its next request.
func (c *conn) interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	_ = c.nc.SetReadDeadline(time.Now())
}

func (c *conn) armRead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	var deadline time.Time
	if c.srv.cfg.IdleTimeout > 0 {
		deadline = time.Now().Add(c.srv.cfg.IdleTimeout)
	}
	_ = c.nc.SetReadDeadline(deadline)
	return true
}

func (c *conn) serve() {
	defer c.nc.Close()

	ctx := logger.WithPartition(context.Background(), c.partition)
	c.logger.Debug("connection opened")

	for c.armRead() {
		payload, err := ipc.ReadFrame(c.nc, c.srv.cfg.MaxMessageSize)
		if err != nil {
			c.readError(err)
			return
		}

		var req ipc.Request
		if err := req.Unmarshal(payload); err != nil {
			c.drop("malformed", err)
			return
		}

		resp, ok := c.handle(ctx, &req)
		if !ok {
			return
		}
		if err := ipc.WriteFrame(c.nc, resp.Marshal()); err != nil {
			c.logger.Debug("write failed", "error", err)
			return
		}
	}
}

func (c *conn) readError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Debug("connection closed by peer")
	case errors.Is(err, os.ErrDeadlineExceeded):
		c.logger.Debug("connection idle, closing")
	case errors.Is(err, ipc.ErrFrameTooLarge):
		c.drop("too_large", err)
	default:
		c.logger.Debug("read failed", "error", err)
	}
}

// drop records a protocol violation. The caller closes the connection.
func (c *conn) drop(reason string, err error) {
	c.srv.reject(reason)
	c.logger.Warn("dropping connection", "reason", reason, "error", err)
}

// handle answers one request. ok is false when the connection must be dropped.
func (c *conn) handle(ctx context.Context, req *ipc.Request) (*ipc.Response, bool) {
	switch req.Type {
	case ipc.MsgConnect:
		return c.connect(req), true

	case ipc.MsgCall:
		reg, found := c.handles[req.Handle]
		if !found {
			c.drop("invalid_handle", errors.New("call on unknown handle"))
			return nil, false
		}
		if !req.Op.Valid() {
			c.drop("invalid_op", errors.New("unknown operation "+req.Op.String()))
			return nil, false
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.srv.reject("rate_limited")
			return &ipc.Response{Result: ipc.ResultBusy}, true
		}
		return c.call(ctx, reg.svc, req), true

	case ipc.MsgClose:
		if _, found := c.handles[req.Handle]; !found {
			c.drop("invalid_handle", errors.New("close of unknown handle"))
			return nil, false
		}
		delete(c.handles, req.Handle)
		return &ipc.Response{}, true

	default:
		c.drop("malformed", errors.New("unknown message type "+req.Type.String()))
		return nil, false
	}
}

func (c *conn) connect(req *ipc.Request) *ipc.Response {
	reg, ok := c.srv.lookup(req.SID)
	if !ok {
		c.srv.reject("unknown_sid")
		c.logger.Info("connect refused", "sid", req.SID, "reason", "unknown service")
		return &ipc.Response{Result: ipc.ResultConnectionRefused}
	}
	if req.Version > reg.version {
		c.srv.reject("version")
		c.logger.Info("connect refused", "sid", req.SID, "version", req.Version, "reason", "unsupported version")
		return &ipc.Response{Result: ipc.ResultConnectionRefused}
	}

	c.nextHandle++
	h := c.nextHandle
	c.handles[h] = reg
	c.logger.Debug("connected", "service", reg.svc.Name(), "handle", h)
	return &ipc.Response{Handle: h, Version: reg.version}
}

// get reads into a fresh buffer. A length no response frame can carry is
// first checked against the asset with an empty read at the same offset,
// so a missing or shorter asset reports the status a direct call would.
func (c *conn) get(ctx context.Context, svc Storage, req *ipc.Request) ([]byte, error) {
	if req.NullBuffer {
		return nil, svc.Get(ctx, c.partition, req.UID, req.Offset, req.Length, nil)
	}
	if req.Length > MaxPayload(c.srv.cfg.MaxMessageSize) {
		if err := svc.Get(ctx, c.partition, req.UID, req.Offset, 0, []byte{}); err != nil {
			return nil, err
		}
		return nil, domain.ErrIncorrectSize.WithDetails("length exceeds the message size limit")
	}
	buf := make([]byte, req.Length)
	if err := svc.Get(ctx, c.partition, req.UID, req.Offset, req.Length, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *conn) call(ctx context.Context, svc Storage, req *ipc.Request) *ipc.Response {
	resp := &ipc.Response{}
	flags := domain.CreateFlags(req.Flags)

	var err error
	switch req.Op {
	case ipc.OpSet:
		err = svc.Set(ctx, c.partition, req.UID, req.Length, req.Data, flags)

	case ipc.OpCreate:
		err = svc.Create(ctx, c.partition, req.UID, req.Length, flags)

	case ipc.OpSetExtended:
		err = svc.SetExtended(ctx, c.partition, req.UID, req.Offset, req.Length, req.Data)

	case ipc.OpGet:
		resp.Data, err = c.get(ctx, svc, req)

	case ipc.OpGetInfo:
		var info domain.Info
		dst := &info
		if req.NullBuffer {
			dst = nil
		}
		if err = svc.GetInfo(ctx, c.partition, req.UID, dst); err == nil {
			resp.Size = info.Size
			resp.Capacity = info.Capacity
			resp.Flags = uint32(info.Flags)
		}

	case ipc.OpRemove:
		err = svc.Remove(ctx, c.partition, req.UID)

	case ipc.OpGetSupport:
		resp.Support = svc.GetSupport()
	}

	resp.Status = uint32(domain.StatusOf(err))
	if err != nil && domain.StatusOf(err).IsFatal() {
		c.logger.Error("storage operation failed", "service", svc.Name(), "op", req.Op.String(), "uid", req.UID, "error", err)
	}
	return resp
}
