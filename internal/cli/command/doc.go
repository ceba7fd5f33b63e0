// Package command defines the psastore-cli commands on urfave/cli/v2.
//
// Storage commands (ps, its) talk to the server over the local IPC socket;
// system commands use the admin HTTP API. The shell command runs the same
// command tree interactively on one connection.
package command
