package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
	"github.com/yndnr/psastore-go/pkg/crypto/adaptive"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// App builds the server application.
func App() *cli.App {
	return &cli.App{
		Name:    "psastore-server",
		Usage:   "PSA Protected Storage and Internal Trusted Storage server",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file",
				EnvVars: []string{"PSASTORE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "override storage.data_dir",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "override server.local.path",
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "override server.http.addr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, c.String("config"), flagOverrides(c))
		},
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Print a random hex master key for security.master_key",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "length", Value: 32, Usage: "key length in bytes"},
				},
				Action: func(c *cli.Context) error {
					key, err := adaptive.GenerateKey(c.Int("length"))
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, key)
					return nil
				},
			},
		},
	}
}

// flagOverrides maps the flags that were set to dotted configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	keys := map[string]string{
		"data-dir":  "storage.data_dir",
		"socket":    "server.local.path",
		"http-addr": "server.http.addr",
		"log-level": "log.level",
	}
	out := make(map[string]any)
	for flag, key := range keys {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	return out
}
