package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/cli/config"
	"github.com/yndnr/psastore-go/internal/infra/confloader"
	serverconfig "github.com/yndnr/psastore-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "cli",
				Usage: "CLI local configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective CLI settings",
						Action: configCLIShow,
					},
					{
						Name:  "init",
						Usage: "Write a default CLI configuration file",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
						},
						Action: configCLIInit,
					},
				},
			},
			{
				Name:  "server",
				Usage: "Server configuration files",
				Subcommands: []*cli.Command{
					{
						Name:      "check",
						Usage:     "Validate a server configuration file and print it with secrets masked",
						ArgsUsage: "FILE",
						Action:    configServerCheck,
					},
					{
						Name:   "default",
						Usage:  "Print the default server configuration",
						Action: configServerDefault,
					},
				},
			},
		},
	}
}

// CLISettingsView is the output of config cli show.
type CLISettingsView struct {
	ConfigFile string `json:"config_file" yaml:"config_file"`
	Exists     bool   `json:"exists" yaml:"exists"`
	Socket     string `json:"socket" yaml:"socket"`
	Server     string `json:"server" yaml:"server"`
	Output     string `json:"output" yaml:"output"`
	Timeout    string `json:"timeout" yaml:"timeout"`
}

func configCLIShow(c *cli.Context) error {
	s := GetSettings(c)
	_, err := os.Stat(s.ConfigPath)
	return render(c, CLISettingsView{
		ConfigFile: s.ConfigPath,
		Exists:     err == nil,
		Socket:     s.Socket,
		Server:     s.Server,
		Output:     string(s.Output),
		Timeout:    s.Timeout.String(),
	})
}

func configCLIInit(c *cli.Context) error {
	path := GetSettings(c).ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "Wrote %s\n", path)
	return nil
}

func configServerCheck(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("FILE argument required")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	cfg := serverconfig.Default()
	if err := confloader.NewLoader(confloader.WithConfigFile(path)).Load(cfg); err != nil {
		return err
	}
	if err := serverconfig.Check(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return render(c, serverconfig.Sanitize(cfg))
}

func configServerDefault(c *cli.Context) error {
	return render(c, serverconfig.Default())
}
