package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// KeyPair holds a certificate and its key loaded from files. After Watch
// or StartAsync, edits of either file replace the served certificate.
// A failed reload keeps the previous certificate.
type KeyPair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate

	reloadMu   sync.Mutex
	lastReload time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a KeyPair.
type Option func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *KeyPair) { k.logger = logger }
}

// WithDebounce ignores change events closer together than d.
func WithDebounce(d time.Duration) Option {
	return func(k *KeyPair) { k.debounce = d }
}

// NewKeyPair loads certFile and keyFile.
func NewKeyPair(certFile, keyFile string, opts ...Option) (*KeyPair, error) {
	k := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.Reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return k, nil
}

// Reload reads both files again.
func (k *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()
	return nil
}

// Certificate returns the current certificate.
func (k *KeyPair) Certificate() *tls.Certificate {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return k.Certificate(), nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (k *KeyPair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return k.Certificate(), nil
}

// Watch reloads the pair on file changes until Stop is called.
// The parent directories are watched so that replacement by rename is seen.
func (k *KeyPair) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer w.Close()

	dirs := map[string]bool{filepath.Dir(k.certFile): true, filepath.Dir(k.keyFile): true}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	names := map[string]bool{filepath.Clean(k.certFile): true, filepath.Clean(k.keyFile): true}

	k.logger.Info("certificate watcher started", "cert_file", k.certFile)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			k.changed()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			k.logger.Error("certificate watcher error", "error", err)
		case <-k.done:
			return nil
		}
	}
}

// StartAsync runs Watch in a goroutine.
func (k *KeyPair) StartAsync() {
	go func() {
		if err := k.Watch(); err != nil {
			k.logger.Error("certificate watcher stopped", "error", err)
		}
	}()
}

// Stop ends Watch. It is safe to call more than once.
func (k *KeyPair) Stop() {
	k.stopOnce.Do(func() { close(k.done) })
}

func (k *KeyPair) changed() {
	k.reloadMu.Lock()
	defer k.reloadMu.Unlock()

	now := time.Now()
	if now.Sub(k.lastReload) < k.debounce {
		return
	}
	if err := k.Reload(); err != nil {
		// The key may not be written yet; the next event retries.
		k.logger.Warn("certificate reload failed", "error", err, "cert_file", k.certFile)
		return
	}
	k.lastReload = now
	k.logger.Info("certificate reloaded", "cert_file", k.certFile)
}
