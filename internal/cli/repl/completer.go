package repl

import (
	"sort"
	"strings"
)

// Completer suggests command paths for a prefix.
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over the given command paths, e.g.
// "ps set" or "system health". The shell built-ins are always included.
func NewCompleter(commands ...string) *Completer {
	seen := map[string]bool{}
	var all []string
	for _, cmd := range append(commands, "help", "exit", "quit") {
		if !seen[cmd] {
			seen[cmd] = true
			all = append(all, cmd)
		}
	}
	sort.Strings(all)
	return &Completer{commands: all}
}

// Complete returns the commands starting with prefix. Runs of spaces in
// the prefix are treated as one.
func (c *Completer) Complete(prefix string) []string {
	trailing := strings.HasSuffix(prefix, " ")
	prefix = strings.Join(strings.Fields(prefix), " ")
	if trailing && prefix != "" {
		prefix += " "
	}

	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

// Commands returns every known command path.
func (c *Completer) Commands() []string {
	return c.commands
}
