package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

var (
	// ErrConnectionRefused is returned by Connect when the server refuses
	// the SID or version.
	ErrConnectionRefused = errors.New("ipc: connection refused")

	// ErrBusy is returned when the server rate limits the caller.
	ErrBusy = errors.New("ipc: server busy")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("ipc: client closed")
)

// StatusError is a non-success storage status returned by a CALL.
type StatusError struct {
	Op     Op
	Status uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ipc: %s: status %d", e.Op, e.Status)
}

// StatusOf returns the storage status carried by err. A nil error is 0.
// ok is false for transport errors.
func StatusOf(err error) (status uint32, ok bool) {
	if err == nil {
		return 0, true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxFrameSize sets the largest response frame the client accepts.
func WithMaxFrameSize(n int) ClientOption {
	return func(c *Client) { c.maxFrame = n }
}

// WithTimeout bounds every round trip that has no earlier context deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Client is a connection to a psastore server. It is safe for concurrent
// use; requests are serialized.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	maxFrame int
	timeout  time.Duration
	closed   bool
}

// Dial connects to the server listening on the Unix socket at path.
func Dial(ctx context.Context, path string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:     conn,
		maxFrame: DefaultMaxFrameSize,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RoundTrip sends req and waits for its response.
func (c *Client) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(c.conn, req.Marshal()); err != nil {
		return nil, c.wrapErr(ctx, "write", err)
	}
	payload, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return nil, c.wrapErr(ctx, "read", err)
	}

	var resp Response
	if err := resp.Unmarshal(payload); err != nil {
		return nil, err
	}
	switch resp.Result {
	case ResultOK:
		return &resp, nil
	case ResultConnectionRefused:
		return nil, ErrConnectionRefused
	case ResultBusy:
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("ipc: unexpected result %s", resp.Result)
	}
}

func (c *Client) wrapErr(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("ipc: %s: %w", what, err)
}

// Connect opens a session with the service sid.
func (c *Client) Connect(ctx context.Context, sid, version uint32) (*Session, error) {
	resp, err := c.RoundTrip(ctx, &Request{Type: MsgConnect, SID: sid, Version: version})
	if err != nil {
		return nil, err
	}
	return &Session{client: c, sid: sid, handle: resp.Handle, version: resp.Version}, nil
}

// Close closes the connection and every session on it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
