package config

import "time"

// Built-in defaults, matching the server's defaults.
const (
	DefaultSocket  = "/run/psastore/psastore.sock"
	DefaultServer  = "http://127.0.0.1:5480"
	DefaultOutput  = "table"
	DefaultTimeout = 30 * time.Second
)

// CLIConfig is the configuration for psastore-cli.
type CLIConfig struct {
	Socket  string        `koanf:"socket" yaml:"socket"`
	Server  string        `koanf:"server" yaml:"server"`
	Output  string        `koanf:"output" yaml:"output"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	// TLS settings for an https server.
	CAFile   string `koanf:"ca_file" yaml:"ca_file,omitempty"`
	CertFile string `koanf:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string `koanf:"key_file" yaml:"key_file,omitempty"`

	// Profiles are named socket/server pairs selected with --profile.
	Profiles map[string]Profile `koanf:"profiles" yaml:"profiles,omitempty"`

	// CurrentProfile is used when --profile is not given.
	CurrentProfile string `koanf:"current_profile" yaml:"current_profile,omitempty"`
}

// Profile overrides the connection settings of CLIConfig.
type Profile struct {
	Socket string `koanf:"socket" yaml:"socket,omitempty"`
	Server string `koanf:"server" yaml:"server,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Socket:   DefaultSocket,
		Server:   DefaultServer,
		Output:   DefaultOutput,
		Timeout:  DefaultTimeout,
		Profiles: make(map[string]Profile),
	}
}
