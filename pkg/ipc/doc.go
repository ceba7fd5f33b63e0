// Package ipc implements the local wire protocol of psastore and a client
// for it.
//
// A connection carries length-prefixed frames, each holding one protobuf
// wire-format message:
//
//	[length:4 big endian][message]
//
// A client first CONNECTs to a service by SID and version and receives a
// handle, then issues CALLs against that handle and finally CLOSEs it.
// Requests are answered in order; one request is in flight per connection.
//
// Storage status codes travel unchanged in Response.Status. Transport
// outcomes such as a refused connection are reported in Response.Result.
// A CALL with an unknown handle or a malformed frame is a programming
// error and the server drops the connection.
package ipc
