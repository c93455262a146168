// Package modbus implements the Modbus TCP/IP application protocol,
// providing both a client (master) and a server (slave).
//
// The client is a synchronous request/response engine: every method
// blocks the calling goroutine until a response arrives, a protocol
// exception is returned by the peer, or a deadline expires.
//
// The server is a single-threaded, readiness-driven reactor built on
// top of a poll(2) event loop. All accepted connections, request
// assembly, backend dispatch and response writes happen on the
// goroutine that calls Server.Run; the only operations safe to call
// from another goroutine while Run is active are Shutdown and
// CloseClientConnection.
//
// RTU/ASCII serial variants, gateway routing and multi-tenant unit-id
// demultiplexing are out of scope; TLS is reserved (port 802) but not
// implemented.
package modbus
