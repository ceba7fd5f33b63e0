// Package repl implements the interactive shell of psastore-cli.
//
// Lines are split into arguments and handed to an Executor, normally the
// CLI application itself, so one IPC connection and its open service
// handles persist for the whole shell. A trailing "?" lists the commands
// that complete the line.
package repl
