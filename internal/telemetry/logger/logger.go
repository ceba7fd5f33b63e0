package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the logging surface used across psastore.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	// WithContext binds ctx so its request ID and partition are logged.
	WithContext(ctx context.Context) Logger
}

// Config selects the level and encoding of a logger.
type Config struct {
	Level     string    `koanf:"level" json:"level"`
	Format    string    `koanf:"format" json:"format"` // json, text or console
	Output    io.Writer `koanf:"-" json:"-"`           // nil means stderr
	AddSource bool      `koanf:"add_source" json:"add_source"`
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Validate reports an unknown level or format.
func (c Config) Validate() error {
	if _, ok := levelNames[strings.ToLower(c.Level)]; c.Level != "" && !ok {
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "text", "console":
		return nil
	}
	return fmt.Errorf("unknown log format %q", c.Format)
}

// level is shared by every logger from New, so SetLevel reaches them all.
var level = new(slog.LevelVar)

// New builds a logger. Secrets and asset contents are redacted and
// context request attributes are appended.
func New(cfg Config) (Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level.Set(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	var h slog.Handler
	if f := strings.ToLower(cfg.Format); f == "text" || f == "console" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return &slogLogger{sl: slog.New(scopeHandler{h}), ctx: context.Background()}, nil
}

func parseLevel(name string) slog.Level {
	if l, ok := levelNames[strings.ToLower(name)]; ok {
		return l
	}
	return slog.LevelInfo
}

// SetLevel changes the level of every logger built with New. Unknown
// names select info.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// GetLevel returns the current level name.
func GetLevel() string {
	switch l := level.Level(); {
	case l <= slog.LevelDebug:
		return "debug"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	}
	return "info"
}

// Slog returns the *slog.Logger behind l for packages that take one.
// Other Logger implementations map to slog.Default().
func Slog(l Logger) *slog.Logger {
	if s, ok := l.(*slogLogger); ok {
		return s.sl
	}
	return slog.Default()
}

type slogLogger struct {
	sl  *slog.Logger
	ctx context.Context
}

func (l *slogLogger) Debug(msg string, args ...any) { l.sl.DebugContext(l.ctx, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.sl.InfoContext(l.ctx, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.sl.WarnContext(l.ctx, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.sl.ErrorContext(l.ctx, msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{sl: l.sl.With(args...), ctx: l.ctx}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	return &slogLogger{sl: l.sl, ctx: ctx}
}

var process atomic.Pointer[slogLogger]

func init() {
	l, _ := New(DefaultConfig())
	process.Store(l.(*slogLogger))
}

// SetDefault replaces the process logger and installs it as the slog
// default, so library code logging through slog is redacted too.
func SetDefault(l Logger) {
	if s, ok := l.(*slogLogger); ok {
		process.Store(s)
		slog.SetDefault(s.sl)
	}
}

// Default returns the process logger.
func Default() Logger {
	return process.Load()
}
