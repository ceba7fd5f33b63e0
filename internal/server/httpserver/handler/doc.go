// Package handler provides the admin HTTP handlers of psastore.
//
//   - health.go: liveness and readiness
//   - admin.go: status summary, storage statistics and snapshots
//
// Every JSON response uses the Response envelope. Stored asset contents
// are never exposed here; they are reachable only over the local socket.
package handler
