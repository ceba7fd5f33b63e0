package config

import (
	"time"

	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
	"github.com/yndnr/psastore-go/internal/storage/wal"
)

// Default configuration values.
const (
	DefaultHTTPAddr    = "127.0.0.1:5480"
	DefaultLocalSocket = "/run/psastore/psastore.sock"
	DefaultSocketMode  = "0660"
	DefaultDataDir     = "/var/lib/psastore"
	DefaultSaltFile    = "keyfile.salt"

	DefaultShutdownTimeout  = 15 * time.Second
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute

	DefaultMaxConnections = 1024
	DefaultMaxMessageSize = 1 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Enabled:      true,
				Addr:         DefaultHTTPAddr,
				ReadTimeout:  DefaultHTTPReadTimeout,
				WriteTimeout: DefaultHTTPWriteTimeout,
			},
			Local: LocalConfig{
				Path:           DefaultLocalSocket,
				SocketMode:     DefaultSocketMode,
				MaxConnections: DefaultMaxConnections,
				MaxMessageSize: DefaultMaxMessageSize,
				IdleTimeout:    DefaultIdleTimeout,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			PS:      DefaultPSConfig(),
			ITS:     DefaultITSConfig(),
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetrySection{
			Metrics: true,
		},
	}
}

func defaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:               true,
		Backend:               storage.BackendLog,
		SnapshotInterval:      storage.DefaultSnapshotInterval,
		SnapshotKeep:          snapshot.DefaultRetentionCount,
		SnapshotRetentionDays: snapshot.DefaultRetentionDays,
		WAL: WALConfig{
			SyncMode:       string(wal.SyncModeSync),
			SyncInterval:   wal.DefaultSyncInterval,
			MaxFileSize:    wal.DefaultMaxFileSize,
			RetainSegments: wal.DefaultRetainCount,
		},
		Badger: storage.DefaultBadgerConfig(),
	}
}

// DefaultPSConfig returns the Protected Storage defaults: every optional
// operation enabled and records sealed when a secret is configured.
func DefaultPSConfig() ServiceConfig {
	c := defaultServiceConfig()
	c.Capabilities = CapabilitiesConfig{Create: true, SetExtended: true, Offsets: true}
	c.Encryption = EncryptionAuto
	return c
}

// DefaultITSConfig returns the Internal Trusted Storage defaults: no
// optional operations and plaintext records.
func DefaultITSConfig() ServiceConfig {
	c := defaultServiceConfig()
	c.Capabilities = CapabilitiesConfig{Offsets: true}
	c.Encryption = EncryptionOff
	return c
}
