// Package localserver serves the storage services to local clients over a
// Unix domain socket using the protocol of pkg/ipc.
//
// The caller partition of a connection is the peer uid reported by the
// kernel (SO_PEERCRED on Linux). Where peer credentials are unavailable
// every connection runs in the configured default partition.
//
// Registered services are limited to assets a single get response can
// carry; see MaxPayload.
//
// Access control is the file mode of the socket. Calls are rate limited
// per partition.
package localserver
