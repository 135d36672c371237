package transport

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSONRPCVersion is the only protocol version accepted on the wire
const JSONRPCVersion = "2.0"

// RequestId is the correlation id of a request and its response
type RequestId int64

// JsonRpcBody is the result of a request handler
type JsonRpcBody any

// BaseJSONRPCRequest is a request that expects a response
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCNotification is a one-way message
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful response to a request
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// BaseJSONRPCErrorInner is the error object of an error response
type BaseJSONRPCErrorInner struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// BaseJSONRPCError is an error response to a request
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// BaseMessageType discriminates the payload of BaseJsonRpcMessage
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is one framed message, exactly one payload is set
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response
func NewBaseMessageError(response *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: response,
	}
}

// MessageID returns the correlation id, or zero for notifications
func (m *BaseJsonRpcMessage) MessageID() RequestId {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id
	}
	return 0
}

// Method returns the method of a request or notification
func (m *BaseJsonRpcMessage) Method() string {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Method
	case BaseMessageTypeJSONRPCNotificationType:
		return m.JsonRpcNotification.Method
	}
	return ""
}

// MarshalJSON encodes the payload only
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, errors.Errorf("unknown message type: %q", m.Type)
}

// probe holds the fields that discriminate JSON-RPC messages
type probe struct {
	Jsonrpc string                 `json:"jsonrpc"`
	Id      *RequestId             `json:"id"`
	Method  string                 `json:"method"`
	Params  json.RawMessage        `json:"params"`
	Result  json.RawMessage        `json:"result"`
	Error   *BaseJSONRPCErrorInner `json:"error"`
}

// ParseMessage decodes one framed message
func ParseMessage(data []byte) (*BaseJsonRpcMessage, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "invalid JSON-RPC message")
	}
	if p.Jsonrpc != JSONRPCVersion {
		return nil, errors.Errorf("unsupported JSON-RPC version: %q", p.Jsonrpc)
	}

	switch {
	case p.Method != "" && p.Id != nil:
		return NewBaseMessageRequest(&BaseJSONRPCRequest{
			Jsonrpc: p.Jsonrpc,
			Id:      *p.Id,
			Method:  p.Method,
			Params:  p.Params,
		}), nil
	case p.Method != "":
		return NewBaseMessageNotification(&BaseJSONRPCNotification{
			Jsonrpc: p.Jsonrpc,
			Method:  p.Method,
			Params:  p.Params,
		}), nil
	case p.Id == nil:
		return nil, errors.New("JSON-RPC message has neither method nor id")
	case p.Error != nil:
		return NewBaseMessageError(&BaseJSONRPCError{
			Jsonrpc: p.Jsonrpc,
			Id:      *p.Id,
			Error:   *p.Error,
		}), nil
	case p.Result != nil:
		return NewBaseMessageResponse(&BaseJSONRPCResponse{
			Jsonrpc: p.Jsonrpc,
			Id:      *p.Id,
			Result:  p.Result,
		}), nil
	}
	return nil, errors.Errorf("JSON-RPC response %d has neither result nor error", *p.Id)
}
