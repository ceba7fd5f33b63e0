package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/server/httpserver"
	"github.com/yndnr/psastore-go/internal/server/httpserver/handler"
	"github.com/yndnr/psastore-go/internal/server/localserver"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/pkg/ipc"
)

// testServer runs both transports over in-memory engines.
type testServer struct {
	socket string
	http   *httptest.Server
}

func newBacking(t *testing.T, name string, opts service.Options) handler.Backing {
	t.Helper()
	cfg := storage.DefaultConfig(name)
	opts.Limits.Apply(&cfg)
	e, err := storage.New(cfg, storage.NewMemoryBackend())
	require.NoError(t, err)
	require.NoError(t, e.Recover(context.Background()))
	t.Cleanup(func() { e.Close() })
	return handler.Backing{Service: service.NewStorageService(name, e, opts), Store: e}
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	ps := newBacking(t, service.ServicePS, service.DefaultPSOptions())
	its := newBacking(t, service.ServiceITS, service.DefaultITSOptions())

	dir, err := os.MkdirTemp("", "pscli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	srv := localserver.New(localserver.Config{Path: filepath.Join(dir, "s.sock")})
	srv.Register(ipc.SIDProtectedStorage, ps.Service.(*service.StorageService))
	srv.Register(ipc.SIDInternalTrustedStorage, its.Service.(*service.StorageService))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.NoError(t, <-errCh)
	})

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Backings: map[string]handler.Backing{service.ServicePS: ps, service.ServiceITS: its},
	})
	hs := httptest.NewServer(router)
	t.Cleanup(hs.Close)

	return &testServer{socket: filepath.Join(dir, "s.sock"), http: hs}
}

// run executes the CLI against ts with an empty configuration file.
func (ts *testServer) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runApp(t, nil, append([]string{"--socket", ts.socket, "--server", ts.http.URL}, args...)...)
}

// runApp executes the CLI with stdin, a private config path and args.
func runApp(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	if stdin != nil {
		app.Reader = stdin
	}

	full := append([]string{app.Name, "--config", filepath.Join(t.TempDir(), "cli.yaml")}, args...)
	err := app.Run(full)
	return out.String(), err
}

// mockServer serves canned admin API responses.
type mockServer struct {
	*httptest.Server
	handlers map[string]http.HandlerFunc
}

func newMockServer(t *testing.T) *mockServer {
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for pattern, h := range m.handlers {
			if strings.HasPrefix(r.URL.Path, pattern) {
				h(w, r)
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, h http.HandlerFunc) {
	m.handlers[pattern] = h
}

// envelopeResponse writes data in the admin API response envelope.
func envelopeResponse(w http.ResponseWriter, status int, code string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"message":    "test",
		"request_id": "req-test",
		"data":       data,
	})
}
