// Package main provides the entry point for psastore-server.
//
// The server hosts the Protected Storage and Internal Trusted Storage
// services and exposes them on:
//
//   - a local Unix socket speaking the framed IPC protocol, with the
//     caller partition taken from the peer credentials
//   - an optional admin HTTP API for health, readiness, statistics,
//     snapshots and Prometheus metrics
//
// Usage:
//
//	psastore-server [flags]
//	psastore-server --config /etc/psastore/server.yaml
//	psastore-server keygen
//
// SIGHUP and edits of the configuration file reload the log level.
// SIGINT and SIGTERM stop the listeners and close the stores.
package main
