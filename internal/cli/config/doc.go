// Package config holds the psastore-cli settings file (~/.psastore/cli.yaml).
//
// Settings resolve in this order, later wins: built-in defaults, the file,
// PSASTORE_CLI_* environment variables, then command-line flags.
package config
