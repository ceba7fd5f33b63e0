package connection

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/psastore-go/pkg/ipc"
)

// fakeServer answers CONNECT for SIDProtectedStorage and counts requests.
type fakeServer struct {
	path string

	mu       sync.Mutex
	connects int
	closes   int
	dials    int
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	dir, err := os.MkdirTemp("", "psc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := &fakeServer{path: filepath.Join(dir, "s.sock")}
	l, err := net.Listen("unix", f.path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.dials++
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := ipc.ReadFrame(conn, ipc.DefaultMaxFrameSize)
		if err != nil {
			return
		}
		var req ipc.Request
		if err := req.Unmarshal(payload); err != nil {
			return
		}

		resp := ipc.Response{}
		f.mu.Lock()
		switch req.Type {
		case ipc.MsgConnect:
			f.connects++
			if req.SID == ipc.SIDProtectedStorage {
				resp.Handle, resp.Version = uint32(f.connects), ipc.ServiceVersion
			} else {
				resp.Result = ipc.ResultConnectionRefused
			}
		case ipc.MsgClose:
			f.closes++
		}
		f.mu.Unlock()

		if err := ipc.WriteFrame(conn, resp.Marshal()); err != nil {
			return
		}
	}
}

func (f *fakeServer) counts() (dials, connects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.connects, f.closes
}

func TestSocketClient_SessionReused(t *testing.T) {
	srv := startFakeServer(t)
	c := NewSocketClient(srv.path, time.Second)
	ctx := context.Background()

	s1, err := c.Session(ctx, ipc.SIDProtectedStorage)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	s2, err := c.Session(ctx, ipc.SIDProtectedStorage)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if s1 != s2 {
		t.Error("expected the same session for the same SID")
	}
	if s1.Handle() != 1 {
		t.Errorf("Handle() = %d, want 1", s1.Handle())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	dials, connects, closes := srv.counts()
	if dials != 1 || connects != 1 || closes != 1 {
		t.Errorf("dials=%d connects=%d closes=%d, want 1/1/1", dials, connects, closes)
	}
}

func TestSocketClient_ConnectRefused(t *testing.T) {
	srv := startFakeServer(t)
	c := NewSocketClient(srv.path, time.Second)
	defer c.Close()

	_, err := c.Session(context.Background(), ipc.SIDInternalTrustedStorage)
	if !errors.Is(err, ipc.ErrConnectionRefused) {
		t.Fatalf("error = %v, want ErrConnectionRefused", err)
	}
}

func TestSocketClient_NoServer(t *testing.T) {
	c := NewSocketClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)
	if _, err := c.Session(context.Background(), ipc.SIDProtectedStorage); err == nil {
		t.Fatal("expected dial error")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close without connection should not error: %v", err)
	}
}

func TestManager_LazyClientsSocket(t *testing.T) {
	m := NewManager(Target{Socket: "/tmp/x.sock", Server: "127.0.0.1:5480", Timeout: time.Second})

	if m.Socket() != m.Socket() {
		t.Error("Socket() should return the same client")
	}
	if m.Socket().Path() != "/tmp/x.sock" {
		t.Errorf("Path() = %q", m.Socket().Path())
	}
	if m.HTTP().BaseURL() != "http://127.0.0.1:5480" {
		t.Errorf("BaseURL() = %q", m.HTTP().BaseURL())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestManager_CloseUnused(t *testing.T) {
	if err := NewManager(Target{}).Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
