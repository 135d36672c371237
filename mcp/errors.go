package mcp

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/internal/protocol"
)

var (
	// ErrConnection is the marker for transport start and handshake failures
	ErrConnection = errors.New("mcp: connection failed")
	// ErrProtocol is the marker for transport, framing and timeout faults
	ErrProtocol = errors.New("mcp: protocol error")
	// ErrToolExecution is the marker for errors reported by the server for a tool call
	ErrToolExecution = errors.New("mcp: tool execution failed")
	// ErrNotFound is the marker for unknown resources and prompts
	ErrNotFound = errors.New("mcp: not found")
)

// Classify tags err with one of the error kinds above. The kind is matched
// by errors.Is of both the standard library and cockroachdb/errors, the
// cause stays in the Unwrap chain.
func Classify(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{cause: err, kind: kind}
}

type classifiedError struct {
	cause error
	kind  error
}

func (e *classifiedError) Error() string { return e.cause.Error() }

func (e *classifiedError) Unwrap() error { return e.cause }

func (e *classifiedError) Is(target error) bool { return target == e.kind }

// RPCError is an error response received from the server
type RPCError = protocol.RPCError

// JSON-RPC error codes
const (
	CodeMethodNotFound   = protocol.CodeMethodNotFound
	CodeInvalidParams    = protocol.CodeInvalidParams
	CodeInternalError    = protocol.CodeInternalError
	CodeResourceNotFound = protocol.CodeResourceNotFound
)

// AsRPCError returns the server error response, if err carries one
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

func isNotFound(err error) bool {
	rpcErr, ok := AsRPCError(err)
	return ok && (rpcErr.Code == CodeResourceNotFound || rpcErr.Code == CodeInvalidParams)
}
