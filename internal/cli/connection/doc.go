// Package connection manages the transports psastore-cli talks over: the
// local IPC socket for storage operations and the admin HTTP API for
// system commands.
package connection
