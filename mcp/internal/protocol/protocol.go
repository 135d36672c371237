// Package protocol implements JSON-RPC request/response correlation on top of
// a transport.Transport: request ids, per-request timeouts, cancellation
// notifications, progress callbacks, and replies to server initiated requests.
//
// A Protocol is safe for concurrent use, serialization of requests per
// client is left to the caller.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat/mcp/internal", "protocol")

// DefaultRequestTimeout bounds a request when no timeout is given
const DefaultRequestTimeout = 60 * time.Second

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeResourceNotFound is returned by MCP servers for unknown resources
	CodeResourceNotFound = -32002
)

var (
	// ErrNotConnected is returned when no transport is attached
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned to pending requests when the connection closes
	ErrClosed = errors.New("connection closed")
	// ErrTimeout is returned when the request timeout expires
	ErrTimeout = errors.New("request timeout")
)

// RPCError is an error response received from the remote side
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Progress represents a progress update
type Progress struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
}

// ProgressCallback is a callback for progress notifications
type ProgressCallback func(progress Progress)

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// OnProgress is called when progress notifications are received from the remote end
	OnProgress ProgressCallback
	// Timeout specifies a timeout for this request.
	// If not specified, the protocol timeout is used
	Timeout time.Duration
}

// RequestHandler serves a request initiated by the remote side
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// NotificationHandler serves a notification from the remote side
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol implements MCP protocol framing on top of a pluggable transport
type Protocol struct {
	transport transport.Transport
	timeout   time.Duration

	requestMessageID transport.RequestId
	mu               sync.RWMutex

	// Maps method name to request handler
	requestHandlers map[string]RequestHandler
	// Maps method name to notification handler
	notificationHandlers map[string]NotificationHandler
	// Maps message ID to response handler
	responseHandlers map[transport.RequestId]chan *responseEnvelope
	// Maps message ID to progress handler
	progressHandlers map[transport.RequestId]ProgressCallback

	closed bool

	// OnClose is called when the connection is closed for any reason
	OnClose func()
	// OnError is called when an out of band error occurs
	OnError func(error)
}

type responseEnvelope struct {
	response json.RawMessage
	err      error
}

// NewProtocol creates a new Protocol instance,
// a zero timeout means DefaultRequestTimeout
func NewProtocol(timeout time.Duration) *Protocol {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	p := &Protocol{
		timeout:              timeout,
		requestMessageID:     1,
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
		progressHandlers:     make(map[transport.RequestId]ProgressCallback),
	}

	p.SetRequestHandler("ping", func(context.Context, *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		return map[string]any{}, nil
	})
	p.SetNotificationHandler("notifications/progress", p.handleProgressNotification)
	p.SetNotificationHandler("notifications/cancelled", func(n *transport.BaseJSONRPCNotification) error {
		logger.KV(xlog.DEBUG, "method", n.Method, "params", string(n.Params))
		return nil
	})

	return p
}

// Timeout returns the default request timeout
func (p *Protocol) Timeout() time.Duration {
	return p.timeout
}

// Connect attaches to the given transport, starts it, and starts listening for messages
func (p *Protocol) Connect(ctx context.Context, tr transport.Transport) error {
	p.mu.Lock()
	p.transport = tr
	p.closed = false
	p.mu.Unlock()

	tr.SetCloseHandler(p.handleClose)
	tr.SetErrorHandler(p.handleError)
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse.Id, message.JsonRpcResponse.Result, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			e := message.JsonRpcError
			p.handleResponse(e.Id, nil, &RPCError{
				Code:    e.Error.Code,
				Message: e.Error.Message,
				Data:    e.Error.Data,
			})
		}
	})

	return tr.Start(ctx)
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	p.closed = true
	// fail all pending requests
	for id, ch := range p.responseHandlers {
		ch <- &responseEnvelope{err: ErrClosed}
		delete(p.responseHandlers, id)
	}
	p.progressHandlers = make(map[transport.RequestId]ProgressCallback)
	onClose := p.OnClose
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	logger.KV(xlog.DEBUG, "reason", "transport", "err", err.Error())
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		logger.KV(xlog.DEBUG, "status", "ignored_notification", "method", notification.Method)
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.Wrap(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG, "method", request.Method, "id", request.Id)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	go func() {
		if handler == nil {
			p.sendErrorResponse(request.Id, CodeMethodNotFound, "method not found: "+request.Method)
			return
		}

		result, err := handler(ctx, request)
		if err != nil {
			p.sendErrorResponse(request.Id, CodeInternalError, err.Error())
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			p.sendErrorResponse(request.Id, CodeInternalError, "failed to marshal result: "+err.Error())
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      request.Id,
			Result:  jsonResult,
		}
		if err := p.send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) handleProgressNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		Progress      float64             `json:"progress"`
		Total         float64             `json:"total"`
		ProgressToken transport.RequestId `json:"progressToken"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal progress params")
	}

	p.mu.RLock()
	handler := p.progressHandlers[params.ProgressToken]
	p.mu.RUnlock()

	if handler != nil {
		handler(Progress{
			Progress: params.Progress,
			Total:    params.Total,
		})
	}
	return nil
}

func (p *Protocol) handleResponse(id transport.RequestId, result json.RawMessage, rpcErr *RPCError) {
	p.mu.Lock()
	ch := p.responseHandlers[id]
	delete(p.responseHandlers, id)
	p.mu.Unlock()

	if ch == nil {
		logger.KV(xlog.DEBUG, "status", "unexpected_response", "id", id)
		return
	}

	env := &responseEnvelope{response: result}
	if rpcErr != nil {
		env.err = rpcErr
	}
	ch <- env
}

// Close closes the connection
func (p *Protocol) Close() error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Request sends a request and waits for a response.
// A response error is returned as *RPCError.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	p.mu.Lock()
	if p.transport == nil || p.closed {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	if opts.OnProgress != nil {
		p.progressHandlers[id] = opts.OnProgress
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		delete(p.progressHandlers, id)
		p.mu.Unlock()
	}()

	requestParams := params
	if opts.OnProgress != nil {
		meta := map[string]any{
			"progressToken": id,
		}
		if params == nil {
			requestParams = map[string]any{
				"_meta": meta,
			}
		} else if paramsMap, ok := params.(map[string]any); ok {
			paramsMap["_meta"] = meta
			requestParams = paramsMap
		} else {
			return nil, errors.Errorf("params must be nil or map[string]any when using progress")
		}
	}

	var marshalledParams json.RawMessage
	if requestParams != nil {
		b, err := json.Marshal(requestParams)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		marshalledParams = b
	}

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}

	if err := p.send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.response, nil
	case <-ctx.Done():
		p.sendCancelNotification(id, ctx.Err().Error())
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
		p.sendCancelNotification(id, "request timeout")
		return nil, errors.Wrapf(ErrTimeout, "%s after %v", method, timeout)
	}
}

func (p *Protocol) send(ctx context.Context, msg *transport.BaseJsonRpcMessage) error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()
	if tr == nil {
		return ErrNotConnected
	}
	return tr.Send(ctx, msg)
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) {
	err := p.Notification(context.Background(), "notifications/cancelled", map[string]any{
		"requestId": requestID,
		"reason":    reason,
	})
	if err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, code int, message string) {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: transport.JSONRPCVersion,
		Id:      requestID,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    code,
			Message: message,
		},
	}
	if err := p.send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send error response"))
	}
}

// Notification emits a notification, which is a one-way message that does not expect a response
func (p *Protocol) Notification(ctx context.Context, method string, params any) error {
	var marshalled json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		marshalled = b
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalled,
	}
	return p.send(ctx, transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler to invoke when this protocol object receives a request with the given method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler to invoke when this protocol object receives a notification with the given method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}
