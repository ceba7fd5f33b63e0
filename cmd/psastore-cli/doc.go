// Package main provides the entry point for psastore-cli.
//
// The CLI talks to a running psastore-server:
//
//   - ps and its commands call the storage services over the local
//     socket (set, create, set-extended, get, info, remove, support)
//   - system commands query the admin HTTP API (status, health, ready,
//     stats, snapshot)
//   - config commands manage the CLI settings file and check server
//     configuration files
//
// Usage:
//
//	psastore-cli [global flags] command [flags] [args]
//	psastore-cli ps set --data hello 42
//	psastore-cli -o json its info 7
//	psastore-cli shell
//
// Results are printed as a table, JSON or YAML.
package main
