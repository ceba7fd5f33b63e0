package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yndnr/psastore-go/pkg/ipc"
)

// SocketClient opens storage sessions over the local IPC socket. The
// underlying connection is dialed on first use and shared by all sessions.
type SocketClient struct {
	path    string
	timeout time.Duration

	mu       sync.Mutex
	client   *ipc.Client
	sessions map[uint32]*ipc.Session
}

// NewSocketClient creates a client for the socket at path.
func NewSocketClient(path string, timeout time.Duration) *SocketClient {
	return &SocketClient{
		path:     path,
		timeout:  timeout,
		sessions: make(map[uint32]*ipc.Session),
	}
}

// Path returns the socket path.
func (c *SocketClient) Path() string {
	return c.path
}

// Session returns a connected session for sid, connecting if needed.
func (c *SocketClient) Session(ctx context.Context, sid uint32) (*ipc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[sid]; ok {
		return s, nil
	}
	if c.client == nil {
		var opts []ipc.ClientOption
		if c.timeout > 0 {
			opts = append(opts, ipc.WithTimeout(c.timeout))
		}
		client, err := ipc.Dial(ctx, c.path, opts...)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.path, err)
		}
		c.client = client
	}

	s, err := c.client.Connect(ctx, sid, ipc.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("connect to service %#x: %w", sid, err)
	}
	c.sessions[sid] = s
	return s, nil
}

// Close closes every open session and the connection.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for sid, s := range c.sessions {
		_ = s.Close(ctx)
		delete(c.sessions, sid)
	}
	err := c.client.Close()
	c.client = nil
	return err
}
