// Package transport defines the JSON-RPC message framing and the Transport
// interface shared by the MCP client transports.
package transport

import "context"

// MessageHandler receives every message read from the connection
type MessageHandler func(ctx context.Context, message *BaseJsonRpcMessage)

// Transport is a bidirectional message channel to an MCP server.
type Transport interface {
	// Start opens the connection and begins reading messages.
	// Handlers must be set before Start is called.
	Start(ctx context.Context) error
	// Send writes one message.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close shuts the connection down, it is safe to call more than once.
	Close() error
	// SetCloseHandler sets the callback for when the connection is closed for any reason.
	SetCloseHandler(handler func())
	// SetErrorHandler sets the callback for out of band errors,
	// errors are not necessarily fatal.
	SetErrorHandler(handler func(error))
	// SetMessageHandler sets the callback for received messages.
	SetMessageHandler(handler MessageHandler)
}
