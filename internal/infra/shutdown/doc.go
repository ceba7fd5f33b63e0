// Package shutdown coordinates graceful termination of the server.
//
// Components register hooks as they start; Wait blocks until SIGINT,
// SIGTERM, a call to Trigger or context cancellation, then runs the hooks
// in reverse registration order under a shared timeout. SIGHUP is
// forwarded to reload callbacks instead of stopping the process.
package shutdown
