package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/wal"
	"github.com/yndnr/psastore-go/internal/telemetry/logger"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

// Services returns the enabled service configurations by name.
func (c *ServerConfig) Services() map[string]ServiceConfig {
	out := make(map[string]ServiceConfig, 2)
	if c.Storage.PS.Enabled {
		out[service.ServicePS] = c.Storage.PS
	}
	if c.Storage.ITS.Enabled {
		out[service.ServiceITS] = c.Storage.ITS
	}
	return out
}

// SaltPath returns the salt file used for passphrase stretching.
func (c *ServerConfig) SaltPath() string {
	if c.Security.SaltFile != "" {
		return c.Security.SaltFile
	}
	return filepath.Join(c.Storage.DataDir, DefaultSaltFile)
}

// ServiceDir returns the data directory of one service.
func (c *ServerConfig) ServiceDir(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}

// BackendConfig builds the storage backend settings of a service
// stored below dir.
func (s ServiceConfig) BackendConfig(name, dir string) storage.BackendConfig {
	lc := storage.DefaultLogConfig(dir)
	lc.Service = name
	lc.WAL.SyncMode = wal.SyncMode(s.WAL.SyncMode)
	if s.WAL.SyncInterval > 0 {
		lc.WAL.SyncInterval = s.WAL.SyncInterval
	}
	if s.WAL.MaxFileSize > 0 {
		lc.WAL.MaxFileSize = s.WAL.MaxFileSize
	}
	if s.WAL.RetainSegments > 0 {
		lc.RetainSegments = s.WAL.RetainSegments
	}
	if s.SnapshotKeep > 0 {
		lc.Snapshot.RetentionCount = s.SnapshotKeep
	}
	lc.Snapshot.RetentionDays = s.SnapshotRetentionDays

	return storage.BackendConfig{
		Kind:    s.Backend,
		Dir:     dir,
		Service: name,
		Log:     lc,
		Badger:  s.Badger,
	}
}

// EngineConfig builds the engine settings of a service.
func (s ServiceConfig) EngineConfig(name string, log *slog.Logger) storage.Config {
	cfg := storage.DefaultConfig(name)
	cfg.SnapshotInterval = s.SnapshotInterval
	cfg.Logger = log
	s.ServiceOptions().Limits.Apply(&cfg)
	return cfg
}

// ServiceOptions builds the storage service options. Callers add the
// Recorder and Clock.
func (s ServiceConfig) ServiceOptions() service.Options {
	return service.Options{
		Capabilities: service.Capabilities{
			Create:      s.Capabilities.Create,
			SetExtended: s.Capabilities.SetExtended,
			Offsets:     s.Capabilities.Offsets,
		},
		Limits: service.Limits{
			Capacity:     s.Capacity,
			MaxAssetSize: s.MaxAssetSize,
			MaxAssets:    s.MaxAssets,
		},
	}
}

// Sealed reports whether records of the service are encrypted given
// whether a master secret is configured.
func (s ServiceConfig) Sealed(haveSecret bool) bool {
	switch s.Encryption {
	case EncryptionOff:
		return false
	default:
		return haveSecret
	}
}

// KeyConfig resolves the configured master secret. The caller should
// zero the returned passphrase after use.
func (c SecuritySection) KeyConfig() (adaptive.KeyConfig, error) {
	kc := adaptive.KeyConfig{Key: c.MasterKey}
	switch {
	case c.Passphrase != "":
		kc.Passphrase = []byte(c.Passphrase)
	case c.PassphraseFile != "":
		p, err := readFirstLine(c.PassphraseFile)
		if err != nil {
			return kc, fmt.Errorf("read passphrase file: %w", err)
		}
		kc.Passphrase = p
	}
	return kc, nil
}

func readFirstLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s is empty", path)
	}
	line := strings.TrimRight(sc.Text(), "\r")
	return []byte(line), nil
}

// LoggerConfig converts the log section for the logger package.
func (l LogSection) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     l.Level,
		Format:    l.Format,
		Output:    os.Stderr,
		AddSource: l.AddSource,
	}
}

// FileMode parses SocketMode as an octal permission.
func (l LocalConfig) FileMode() (os.FileMode, error) {
	if l.SocketMode == "" {
		return 0o660, nil
	}
	m, err := strconv.ParseUint(l.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", l.SocketMode)
	}
	if m&^0o777 != 0 {
		return 0, fmt.Errorf("mode %q has bits outside 0777", l.SocketMode)
	}
	return os.FileMode(m), nil
}
