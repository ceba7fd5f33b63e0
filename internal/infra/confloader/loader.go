package confloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultEnvPrefix selects the environment variables that are read.
	DefaultEnvPrefix = "PSASTORE_"

	// EnvNestingSeparator separates key levels in environment variable names.
	EnvNestingSeparator = "__"
)

// errNoBytes is returned by overrides, which are never parsed.
var errNoBytes = errors.New("confloader: overrides are already structured")

// overrides is a koanf provider over a nested map of flag values.
type overrides map[string]any

func (o overrides) ReadBytes() ([]byte, error)   { return nil, errNoBytes }
func (o overrides) Read() (map[string]any, error) { return maps.Copy(o), nil }

// Loader layers the configuration file, the environment and explicit
// overrides on top of whatever the target struct already holds.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	flags     overrides
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile names the YAML file read by Load.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// NewLoader returns a Loader with nothing read yet.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{k: koanf.New("."), envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath is the file given to WithConfigFile.
func (l *Loader) FilePath() string { return l.filePath }

// Load reads every source in priority order and unmarshals the result into
// target. Keys no source mentions keep their current value in target.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if len(l.flags) > 0 {
		if err := l.k.Load(l.flags, nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadFile merges a YAML file. An empty path is ignored.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// EnvKey maps an environment variable name to a configuration key:
// PSASTORE_SERVER__HTTP__ADDR becomes server.http.addr.
func EnvKey(prefix, name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, prefix))
	return strings.ReplaceAll(name, EnvNestingSeparator, ".")
}

// LoadEnv merges every variable carrying the loader's prefix.
func (l *Loader) LoadEnv() error {
	p := env.Provider(l.envPrefix, ".", func(s string) string {
		return EnvKey(l.envPrefix, s)
	})
	if err := l.k.Load(p, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap merges dotted keys now and keeps them so the next Load applies
// them again after the environment.
func (l *Loader) LoadMap(data map[string]any) error {
	nested := maps.Unflatten(data, ".")
	if l.flags == nil {
		l.flags = overrides{}
	}
	maps.Merge(maps.Copy(nested), l.flags)
	if err := l.k.Load(overrides(nested), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Get returns the merged value at a dotted key, or nil.
func (l *Loader) Get(key string) any { return l.k.Get(key) }
