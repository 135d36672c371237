// Package testingutils provides an in-memory transport that answers
// requests from per-method handlers.
package testingutils

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/effective-security/mcpchat/mcp/transport"
)

// MethodHandler answers a request, returning nil result and nil error drops the request
type MethodHandler func(params json.RawMessage) (any, *transport.BaseJSONRPCErrorInner)

// MockTransport implements transport.Transport in memory
type MockTransport struct {
	// StartErr is returned by Start when set
	StartErr error
	// SendErr is returned by Send when set
	SendErr error

	mu             sync.Mutex
	handlers       map[string]MethodHandler
	messageHandler transport.MessageHandler
	closeHandler   func()
	errorHandler   func(error)
	sent           []*transport.BaseJsonRpcMessage
	started        bool
	closed         bool
	closeCount     int
}

// NewMockTransport returns a transport that answers requests with the registered handlers
func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers: make(map[string]MethodHandler),
	}
}

// NewInitializedMockTransport returns a transport that answers the initialize handshake
func NewInitializedMockTransport() *MockTransport {
	t := NewMockTransport()
	capabilities := map[string]any{
		"tools":     map[string]any{},
		"prompts":   map[string]any{},
		"resources": map[string]any{},
	}
	t.Handle("initialize", func(json.RawMessage) (any, *transport.BaseJSONRPCErrorInner) {
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    capabilities,
			"serverInfo":      map[string]any{"name": "mock", "version": "1.0.0"},
		}, nil
	})
	return t
}

// Handle registers a handler for the method
func (t *MockTransport) Handle(method string, handler MethodHandler) *MockTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = handler
	return t
}

// HandleResult registers a handler that always returns the result
func (t *MockTransport) HandleResult(method string, result any) *MockTransport {
	return t.Handle(method, func(json.RawMessage) (any, *transport.BaseJSONRPCErrorInner) {
		return result, nil
	})
}

// HandleError registers a handler that always returns the error
func (t *MockTransport) HandleError(method string, code int, message string) *MockTransport {
	return t.Handle(method, func(json.RawMessage) (any, *transport.BaseJSONRPCErrorInner) {
		return nil, &transport.BaseJSONRPCErrorInner{Code: code, Message: message}
	})
}

// Start implements Transport.Start
func (t *MockTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartErr != nil {
		return t.StartErr
	}
	t.started = true
	return nil
}

// Send implements Transport.Send
func (t *MockTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.Lock()
	if t.SendErr != nil {
		t.mu.Unlock()
		return t.SendErr
	}
	t.sent = append(t.sent, message)
	var handler MethodHandler
	if message.Type == transport.BaseMessageTypeJSONRPCRequestType {
		handler = t.handlers[message.JsonRpcRequest.Method]
		if handler == nil {
			handler = func(json.RawMessage) (any, *transport.BaseJSONRPCErrorInner) {
				return nil, &transport.BaseJSONRPCErrorInner{Code: -32601, Message: "method not found"}
			}
		}
	}
	t.mu.Unlock()

	if handler == nil {
		return nil
	}

	req := message.JsonRpcRequest
	result, rpcErr := handler(req.Params)
	var reply *transport.BaseJsonRpcMessage
	switch {
	case rpcErr != nil:
		reply = transport.NewBaseMessageError(&transport.BaseJSONRPCError{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      req.Id,
			Error:   *rpcErr,
		})
	case result != nil:
		raw, ok := result.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(result)
			if err != nil {
				return err
			}
			raw = b
		}
		reply = transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      req.Id,
			Result:  raw,
		})
	default:
		return nil
	}

	go t.Deliver(ctx, reply)
	return nil
}

// Deliver passes a message to the message handler as if it was received
func (t *MockTransport) Deliver(ctx context.Context, message *transport.BaseJsonRpcMessage) {
	t.mu.Lock()
	handler := t.messageHandler
	t.mu.Unlock()
	if handler != nil {
		handler(ctx, message)
	}
}

// Close implements Transport.Close
func (t *MockTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	handler := t.closeHandler
	t.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *MockTransport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *MockTransport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *MockTransport) SetMessageHandler(handler transport.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// Sent returns the messages sent so far
func (t *MockTransport) Sent() []*transport.BaseJsonRpcMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*transport.BaseJsonRpcMessage(nil), t.sent...)
}

// SentMethods returns the methods of the requests and notifications sent so far
func (t *MockTransport) SentMethods() []string {
	var methods []string
	for _, m := range t.Sent() {
		if method := m.Method(); method != "" {
			methods = append(methods, method)
		}
	}
	return methods
}

// IsStarted returns true after a successful Start
func (t *MockTransport) IsStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// IsClosed returns true after Close
func (t *MockTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCount returns the number of Close calls
func (t *MockTransport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

// ReportError passes an out of band error to the error handler
func (t *MockTransport) ReportError(err error) {
	t.mu.Lock()
	handler := t.errorHandler
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
