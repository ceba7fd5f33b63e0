package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/cli/config"
	"github.com/yndnr/psastore-go/internal/cli/connection"
	"github.com/yndnr/psastore-go/internal/cli/output"
	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
	"github.com/yndnr/psastore-go/internal/infra/tlsroots"
)

// Metadata keys on cli.App.
const (
	metaConnMgr  = "connMgr"
	metaSettings = "settings"
	metaShell    = "shell"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "psastore-cli",
		Usage:   "Protected Storage and Internal Trusted Storage client",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StorageCommand(StoragePS),
			StorageCommand(StorageITS),
			SystemCommand(),
			ConfigCommand(),
			ShellCommand(),
		},
		Before: before,
		After:  after,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI configuration file",
			EnvVars: []string{"PSASTORE_CLI_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "named profile from the configuration file",
		},
		&cli.StringFlag{
			Name:    "socket",
			Aliases: []string{"S"},
			Usage:   "local IPC socket path",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "admin HTTP address (e.g., 127.0.0.1:5480)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA certificates (PEM file or directory) trusted for an https server",
		},
		&cli.StringFlag{
			Name:  "cert",
			Usage: "client certificate for an https server requiring one",
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: "private key of --cert",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show wide output (more columns)",
		},
	}
}

// Settings are the resolved connection and output settings of a run.
type Settings struct {
	ConfigPath string
	Socket     string
	Server     string
	Output     output.Format
	Timeout    time.Duration
	Wide       bool

	CAFile   string
	CertFile string
	KeyFile  string
}

// ResolveSettings merges the configuration file, the environment and
// the global flags.
func ResolveSettings(c *cli.Context) (*Settings, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg, err = cfg.Resolve(c.String("profile"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("socket") {
		cfg.Socket = c.String("socket")
	}
	if c.IsSet("server") {
		cfg.Server = c.String("server")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("ca-file") {
		cfg.CAFile = c.String("ca-file")
	}
	if c.IsSet("cert") {
		cfg.CertFile = c.String("cert")
	}
	if c.IsSet("key") {
		cfg.KeyFile = c.String("key")
	}

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	path := c.String("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return &Settings{
		ConfigPath: path,
		Socket:     cfg.Socket,
		Server:     cfg.Server,
		Output:     format,
		Timeout:    cfg.Timeout,
		Wide:       c.Bool("wide"),
		CAFile:     cfg.CAFile,
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
	}, nil
}

func before(c *cli.Context) error {
	if _, ok := c.App.Metadata[metaConnMgr]; ok {
		return nil
	}
	s, err := ResolveSettings(c)
	if err != nil {
		return err
	}
	target := connection.Target{
		Socket:  s.Socket,
		Server:  s.Server,
		Timeout: s.Timeout,
	}
	if s.CAFile != "" || s.CertFile != "" || s.KeyFile != "" {
		target.TLS, err = tlsroots.ClientConfig(s.CAFile, s.CertFile, s.KeyFile)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	c.App.Metadata[metaSettings] = s
	c.App.Metadata[metaConnMgr] = connection.NewManager(target)
	return nil
}

func after(c *cli.Context) error {
	if c.App.Metadata[metaShell] == true {
		return nil
	}
	if mgr := GetConnectionManager(c); mgr != nil {
		return mgr.Close()
	}
	return nil
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	mgr, _ := c.App.Metadata[metaConnMgr].(*connection.Manager)
	return mgr
}

// GetSettings retrieves the resolved settings from context.
func GetSettings(c *cli.Context) *Settings {
	if s, ok := c.App.Metadata[metaSettings].(*Settings); ok {
		return s
	}
	return &Settings{Output: output.FormatTable, Timeout: config.DefaultTimeout}
}

func manager(c *cli.Context) (*connection.Manager, error) {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return nil, fmt.Errorf("connection manager not initialized")
	}
	return mgr, nil
}

// requestContext bounds one command by the configured timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := GetSettings(c).Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	return context.WithTimeout(c.Context, timeout)
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	s := GetSettings(c)
	return output.NewFormatter(s.Output, s.Wide).Format(writer(c), data)
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}
