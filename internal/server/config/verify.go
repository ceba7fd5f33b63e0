package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/wal"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

// MinMessageSize is the smallest accepted server.local.max_message_size.
const MinMessageSize = 4096

// Verify validates the configuration and creates the data directory.
// All problems found are reported together.
func Verify(cfg *ServerConfig) error {
	return verify(cfg, true)
}

// Check validates the configuration like Verify without touching the
// filesystem.
func Check(cfg *ServerConfig) error {
	return verify(cfg, false)
}

func verify(cfg *ServerConfig, prepare bool) error {
	errs := []error{
		verifyServer(&cfg.Server),
		verifyStorage(&cfg.Storage, prepare),
		verifySecurity(cfg),
		verifyLog(&cfg.Log),
	}
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error

	if cfg.HTTP.Enabled {
		if cfg.HTTP.Addr == "" {
			errs = append(errs, errors.New("server.http.addr is required when http is enabled"))
		} else if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
		}
		if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
			errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
		}
		if cfg.HTTP.ClientCAFile != "" && cfg.HTTP.TLSCertFile == "" {
			errs = append(errs, errors.New("server.http.client_ca_file requires tls_cert_file"))
		}
		for _, entry := range cfg.HTTP.AllowList {
			if !validIPOrCIDR(entry) {
				errs = append(errs, fmt.Errorf("server.http.allow_list: invalid entry %q", entry))
			}
		}
		if cfg.HTTP.RateLimit < 0 {
			errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
		}
	}

	if cfg.Local.Path == "" {
		errs = append(errs, errors.New("server.local.path is required"))
	}
	if _, err := cfg.Local.FileMode(); err != nil {
		errs = append(errs, fmt.Errorf("server.local.socket_mode: %w", err))
	}
	if cfg.Local.MaxMessageSize < MinMessageSize {
		errs = append(errs, fmt.Errorf("server.local.max_message_size must be at least %d", MinMessageSize))
	}
	if cfg.Local.RateLimit < 0 {
		errs = append(errs, errors.New("server.local.rate_limit must not be negative"))
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validIPOrCIDR(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func verifyStorage(cfg *StorageSection, prepare bool) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	var errs []error
	if prepare {
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			errs = append(errs, fmt.Errorf("cannot create data directory: %w", err))
		}
	}
	if !cfg.PS.Enabled && !cfg.ITS.Enabled {
		errs = append(errs, errors.New("at least one of storage.ps and storage.its must be enabled"))
	}
	errs = append(errs,
		verifyService("storage.ps", &cfg.PS),
		verifyService("storage.its", &cfg.ITS),
	)
	return errors.Join(errs...)
}

func verifyService(prefix string, cfg *ServiceConfig) error {
	if !cfg.Enabled {
		return nil
	}

	var errs []error
	switch cfg.Backend {
	case storage.BackendLog:
		if cfg.SnapshotKeep < 1 {
			errs = append(errs, fmt.Errorf("%s.snapshot_keep must be at least 1", prefix))
		}
		switch wal.SyncMode(cfg.WAL.SyncMode) {
		case wal.SyncModeSync, wal.SyncModeBatch:
		default:
			errs = append(errs, fmt.Errorf("%s.wal.sync_mode: unknown mode %q", prefix, cfg.WAL.SyncMode))
		}
	case storage.BackendBadger, storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%s.backend: unknown backend %q", prefix, cfg.Backend))
	}

	switch cfg.Encryption {
	case EncryptionAuto, EncryptionRequired, EncryptionOff:
	default:
		errs = append(errs, fmt.Errorf("%s.encryption: unknown mode %q", prefix, cfg.Encryption))
	}
	switch adaptive.CipherType(cfg.Cipher) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
	default:
		errs = append(errs, fmt.Errorf("%s.cipher: unknown cipher %q", prefix, cfg.Cipher))
	}

	if cfg.Capacity > 0 && cfg.MaxAssetSize > 0 && uint64(cfg.MaxAssetSize) > cfg.Capacity {
		errs = append(errs, fmt.Errorf("%s.max_asset_size exceeds capacity", prefix))
	}
	if cfg.MaxAssets < 0 {
		errs = append(errs, fmt.Errorf("%s.max_assets must not be negative", prefix))
	}
	if cfg.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("%s.snapshot_interval must not be negative", prefix))
	}
	return errors.Join(errs...)
}

func verifySecurity(cfg *ServerConfig) error {
	sec := &cfg.Security
	sources := 0
	for _, s := range []string{sec.Passphrase, sec.PassphraseFile, sec.MasterKey} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("security: set only one of passphrase, passphrase_file and master_key")
	}

	kc, err := sec.KeyConfig()
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	defer adaptive.ZeroKey(kc.Passphrase)
	if err := kc.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}

	for name, svc := range map[string]ServiceConfig{"ps": cfg.Storage.PS, "its": cfg.Storage.ITS} {
		if svc.Enabled && svc.Encryption == EncryptionRequired && !kc.Enabled() {
			return fmt.Errorf("storage.%s.encryption is required but no master secret is configured", name)
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if err := cfg.LoggerConfig().Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

