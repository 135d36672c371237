// Package mcp provides a Model Context Protocol client.
//
// A Client owns one transport (a subprocess over stdio, or an SSE stream),
// performs the initialize handshake on Connect, and exposes the tools,
// prompts and resources of the server. Requests on one Client are
// serialized, distinct clients are independent.
//
// Failures are classified with markers, test them with errors.Is:
//
//	ErrConnection     transport start or handshake failure
//	ErrProtocol       transport, framing, timeout or malformed result
//	ErrToolExecution  the server returned an error for tools/call
//	ErrNotFound       unknown resource or prompt
package mcp
