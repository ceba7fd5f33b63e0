package config

import (
	"time"

	"github.com/yndnr/psastore-go/internal/storage"
)

// ServerConfig is the root configuration for psastore-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server" json:"server" yaml:"server"`
	Storage   StorageSection   `koanf:"storage" json:"storage" yaml:"storage"`
	Security  SecuritySection  `koanf:"security" json:"security" yaml:"security"`
	Log       LogSection       `koanf:"log" json:"log" yaml:"log"`
	Telemetry TelemetrySection `koanf:"telemetry" json:"telemetry" yaml:"telemetry"`
}

// ServerSection configures the listeners.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http" json:"http" yaml:"http"`
	Local LocalConfig `koanf:"local" json:"local" yaml:"local"`

	// ShutdownTimeout bounds the time shutdown hooks may take.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HTTPConfig configures the admin HTTP server.
type HTTPConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Addr        string `koanf:"addr" json:"addr" yaml:"addr"`
	TLSCertFile string `koanf:"tls_cert_file" json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `koanf:"tls_key_file" json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`

	// ClientCAFile requires clients to present a certificate issued by
	// one of the CAs in this PEM file or directory.
	ClientCAFile string `koanf:"client_ca_file" json:"client_ca_file,omitempty" yaml:"client_ca_file,omitempty"`

	// AllowList restricts clients to these IPs or CIDRs. Empty allows all.
	AllowList []string `koanf:"allow_list" json:"allow_list,omitempty" yaml:"allow_list,omitempty"`

	// RateLimit is the per-client request rate (requests/second). 0 disables.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst"`

	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
}

// LocalConfig configures the local IPC socket.
type LocalConfig struct {
	Path string `koanf:"path" json:"path" yaml:"path"`

	// SocketMode is the octal permission of the socket file, e.g. "0660".
	SocketMode string `koanf:"socket_mode" json:"socket_mode" yaml:"socket_mode"`

	// DefaultPartition is the caller partition used when the peer
	// credentials of a connection cannot be read.
	DefaultPartition int32 `koanf:"default_partition" json:"default_partition" yaml:"default_partition"`

	MaxConnections int `koanf:"max_connections" json:"max_connections" yaml:"max_connections"`
	MaxMessageSize int `koanf:"max_message_size" json:"max_message_size" yaml:"max_message_size"`

	// RateLimit is the per-partition call rate (calls/second). 0 disables.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst"`

	IdleTimeout time.Duration `koanf:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout"`
}

// StorageSection configures the two storage services.
type StorageSection struct {
	// DataDir holds one subdirectory per service and the key salt.
	DataDir string `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`

	PS  ServiceConfig `koanf:"ps" json:"ps" yaml:"ps"`
	ITS ServiceConfig `koanf:"its" json:"its" yaml:"its"`
}

// Encryption modes of a service.
const (
	// EncryptionAuto seals records when a master secret is configured.
	EncryptionAuto = "auto"
	// EncryptionRequired refuses to start without a master secret.
	EncryptionRequired = "required"
	// EncryptionOff stores records in plaintext.
	EncryptionOff = "off"
)

// ServiceConfig configures one storage service.
type ServiceConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Backend is "log", "badger" or "memory".
	Backend string `koanf:"backend" json:"backend" yaml:"backend"`

	// Limits. Zero means unlimited.
	Capacity     uint64 `koanf:"capacity" json:"capacity" yaml:"capacity"`
	MaxAssetSize uint32 `koanf:"max_asset_size" json:"max_asset_size" yaml:"max_asset_size"`
	MaxAssets    int    `koanf:"max_assets" json:"max_assets" yaml:"max_assets"`

	Capabilities CapabilitiesConfig `koanf:"capabilities" json:"capabilities" yaml:"capabilities"`

	Encryption string `koanf:"encryption" json:"encryption" yaml:"encryption"`
	// Cipher forces "aes-gcm" or "chacha20-poly1305". Empty selects by hardware.
	Cipher string `koanf:"cipher" json:"cipher,omitempty" yaml:"cipher,omitempty"`

	SnapshotInterval      time.Duration `koanf:"snapshot_interval" json:"snapshot_interval" yaml:"snapshot_interval"`
	SnapshotKeep          int           `koanf:"snapshot_keep" json:"snapshot_keep" yaml:"snapshot_keep"`
	SnapshotRetentionDays int           `koanf:"snapshot_retention_days" json:"snapshot_retention_days" yaml:"snapshot_retention_days"`

	WAL    WALConfig            `koanf:"wal" json:"wal" yaml:"wal"`
	Badger storage.BadgerConfig `koanf:"badger" json:"badger" yaml:"badger"`
}

// CapabilitiesConfig enables the optional operations of a service.
type CapabilitiesConfig struct {
	Create      bool `koanf:"create" json:"create" yaml:"create"`
	SetExtended bool `koanf:"set_extended" json:"set_extended" yaml:"set_extended"`
	Offsets     bool `koanf:"offsets" json:"offsets" yaml:"offsets"`
}

// WALConfig tunes the log backend.
type WALConfig struct {
	// SyncMode is "sync" (fsync per write) or "batch".
	SyncMode       string        `koanf:"sync_mode" json:"sync_mode" yaml:"sync_mode"`
	SyncInterval   time.Duration `koanf:"sync_interval" json:"sync_interval" yaml:"sync_interval"`
	MaxFileSize    int64         `koanf:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
	RetainSegments int           `koanf:"retain_segments" json:"retain_segments" yaml:"retain_segments"`
}

// SecuritySection configures the master secret protecting stored records.
// At most one source may be set.
type SecuritySection struct {
	// Passphrase is stretched with Argon2id using the salt in SaltFile.
	Passphrase string `koanf:"passphrase" json:"passphrase,omitempty" yaml:"passphrase,omitempty"`

	// PassphraseFile holds the passphrase on its first line.
	PassphraseFile string `koanf:"passphrase_file" json:"passphrase_file,omitempty" yaml:"passphrase_file,omitempty"`

	// MasterKey is a hex encoded raw key.
	MasterKey string `koanf:"master_key" json:"master_key,omitempty" yaml:"master_key,omitempty"`

	// SaltFile defaults to <data_dir>/keyfile.salt.
	SaltFile string `koanf:"salt_file" json:"salt_file,omitempty" yaml:"salt_file,omitempty"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level" json:"level" yaml:"level"`
	Format    string `koanf:"format" json:"format" yaml:"format"`
	AddSource bool   `koanf:"add_source" json:"add_source" yaml:"add_source"`
}

// TelemetrySection configures metrics.
type TelemetrySection struct {
	// Metrics exposes /metrics on the admin HTTP server.
	Metrics bool `koanf:"metrics" json:"metrics" yaml:"metrics"`
}
