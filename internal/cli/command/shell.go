package command

import (
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively on one connection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "history", Usage: "history file", Value: repl.DefaultHistoryFile()},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	if c.App.Metadata[metaShell] == true {
		return errors.New("already in a shell")
	}
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	settings := GetSettings(c)

	exec := func(args []string) error {
		sub := App()
		sub.Metadata = map[string]any{
			metaConnMgr:  mgr,
			metaSettings: settings,
			metaShell:    true,
		}
		sub.Writer = writer(c)
		sub.ErrWriter = c.App.ErrWriter
		sub.ExitErrHandler = func(*cli.Context, error) {}
		return sub.RunContext(c.Context, append([]string{sub.Name}, args...))
	}

	r := repl.New(exec,
		repl.WithIO(c.App.Reader, writer(c)),
		repl.WithCompleter(repl.NewCompleter(commandPaths(c.App.Commands, "")...)),
		repl.WithHistory(repl.NewHistory(c.String("history"))),
	)
	return r.Run()
}

// commandPaths lists the leaf command paths below cmds, skipping the
// shell itself.
func commandPaths(cmds []*cli.Command, prefix string) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Name == "shell" || cmd.Name == "help" || cmd.Hidden {
			continue
		}
		path := strings.TrimSpace(prefix + " " + cmd.Name)
		if len(cmd.Subcommands) == 0 {
			out = append(out, path)
			continue
		}
		out = append(out, commandPaths(cmd.Subcommands, path)...)
	}
	return out
}
