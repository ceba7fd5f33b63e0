package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yndnr/psastore-go/internal/infra/tlsroots"
)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string

	// ClientCAFile enables mutual TLS: clients must present a certificate
	// issued by one of these CAs. Requires TLSCertFile.
	ClientCAFile string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        Config
}

// New creates a new HTTP server.
func New(cfg Config, handler http.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelWarn),
		},
		cfg: cfg,
	}
}

// ListenAndServe starts the server, over TLS when a certificate is
// configured. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l. It returns nil after Shutdown. The certificate is
// reloaded when its files change.
func (s *Server) Serve(l net.Listener) error {
	var err error
	if s.cfg.TLSCertFile != "" {
		err = s.serveTLS(l)
	} else {
		err = s.httpServer.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) serveTLS(l net.Listener) error {
	kp, err := tlsroots.NewKeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile, tlsroots.WithLogger(s.cfg.Logger))
	if err != nil {
		l.Close()
		return err
	}
	var clientCAs []string
	if s.cfg.ClientCAFile != "" {
		clientCAs = append(clientCAs, s.cfg.ClientCAFile)
	}
	tlsCfg, err := tlsroots.ServerConfig(kp, clientCAs...)
	if err != nil {
		l.Close()
		return err
	}

	kp.StartAsync()
	defer kp.Stop()

	s.httpServer.TLSConfig = tlsCfg
	return s.httpServer.ServeTLS(l, "", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
