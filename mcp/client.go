package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/internal/protocol"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "mcp")

// DefaultRequestTimeout bounds every request to the server
const DefaultRequestTimeout = protocol.DefaultRequestTimeout

// DefaultClientInfo is sent to servers on initialize
var DefaultClientInfo = Implementation{Name: "mcpchat", Version: "1.0.0"}

// Option configures the client
type Option func(*Client)

// WithRequestTimeout bounds every request, a timeout is reported as ErrProtocol
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientInfo sets the client implementation sent on initialize
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = Implementation{Name: name, Version: version}
	}
}

// Client is a connection to one MCP server
type Client struct {
	name       string
	tr         transport.Transport
	proto      *protocol.Protocol
	timeout    time.Duration
	clientInfo Implementation

	// one request in flight
	lock sync.Mutex

	stateLock  sync.RWMutex
	connected  bool
	closed     bool
	serverInfo *InitializeResult
}

// New returns a client for the transport, the name identifies
// the server in logs and metrics
func New(name string, tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		name:       name,
		tr:         tr,
		timeout:    DefaultRequestTimeout,
		clientInfo: DefaultClientInfo,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.proto = protocol.NewProtocol(c.timeout)
	c.proto.OnError = func(err error) {
		logger.KV(xlog.ERROR, "server", c.name, "err", err.Error())
	}
	c.proto.OnClose = func() {
		logger.KV(xlog.DEBUG, "status", "closed", "server", c.name)
		c.stateLock.Lock()
		c.closed = true
		c.stateLock.Unlock()
	}
	return c
}

// Name returns the name of the server
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns the initialize result, nil before Connect
func (c *Client) ServerInfo() *InitializeResult {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.serverInfo
}

// Connect starts the transport and performs the initialize handshake
func (c *Client) Connect(ctx context.Context) error {
	c.stateLock.Lock()
	if c.closed {
		c.stateLock.Unlock()
		return Classify(errors.Errorf("client %s: closed", c.name), ErrConnection)
	}
	if c.connected {
		c.stateLock.Unlock()
		return Classify(errors.Errorf("client %s: already connected", c.name), ErrConnection)
	}
	c.connected = true
	c.stateLock.Unlock()

	if err := c.proto.Connect(ctx, c.tr); err != nil {
		_ = c.Close()
		return Classify(errors.Wrapf(err, "client %s: failed to start transport", c.name), ErrConnection)
	}

	var res InitializeResult
	err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      c.clientInfo,
	}, &res)
	if err != nil {
		_ = c.Close()
		return Classify(errors.Wrapf(err, "client %s: initialize failed", c.name), ErrConnection)
	}

	if err = c.proto.Notification(ctx, "notifications/initialized", nil); err != nil {
		_ = c.Close()
		return Classify(errors.Wrapf(err, "client %s: initialized notification failed", c.name), ErrConnection)
	}

	c.stateLock.Lock()
	c.serverInfo = &res
	c.stateLock.Unlock()

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connected",
		"server", c.name,
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	return nil
}

// Close shuts the transport down, it is safe to call more than once
func (c *Client) Close() error {
	c.stateLock.Lock()
	if c.closed {
		c.stateLock.Unlock()
		return nil
	}
	c.closed = true
	connected := c.connected
	c.stateLock.Unlock()

	if !connected {
		return nil
	}
	return c.proto.Close()
}

// call sends one request and decodes the result into out;
// server error responses are returned as *RPCError, other faults are ErrProtocol
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	started := time.Now()
	defer metricskey.PerfMCPRequest.MeasureSince(started, c.name, method)

	raw, err := c.proto.Request(ctx, method, params, nil)
	if err != nil {
		metricskey.StatsMCPRequestsFailed.IncrCounter(1, c.name, method)
		logger.ContextKV(ctx, xlog.DEBUG,
			"server", c.name,
			"method", method,
			"err", err.Error(),
		)
		if _, ok := AsRPCError(err); ok {
			return errors.Wrap(err, method)
		}
		return Classify(errors.Wrap(err, method), ErrProtocol)
	}

	if out != nil {
		if err = json.Unmarshal(raw, out); err != nil {
			metricskey.StatsMCPRequestsFailed.IncrCounter(1, c.name, method)
			return Classify(errors.Wrapf(err, "%s: malformed result", method), ErrProtocol)
		}
	}
	return nil
}

// list follows nextCursor until the listing is exhausted
func list[T any](ctx context.Context, c *Client, method, key string) ([]T, error) {
	var all []T
	seen := map[string]bool{}
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}

		var page map[string]json.RawMessage
		if err := c.call(ctx, method, params, &page); err != nil {
			return nil, Classify(err, ErrProtocol)
		}

		raw, ok := page[key]
		if !ok {
			return nil, Classify(errors.Errorf("%s: malformed result: missing %q", method, key), ErrProtocol)
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, Classify(errors.Wrapf(err, "%s: malformed result", method), ErrProtocol)
		}
		all = append(all, items...)

		next := ""
		if nc, ok := page["nextCursor"]; ok {
			// a null cursor ends the listing
			_ = json.Unmarshal(nc, &next)
		}
		if next == "" {
			return all, nil
		}
		if seen[next] {
			return nil, Classify(errors.Errorf("%s: repeated cursor %q", method, next), ErrProtocol)
		}
		seen[next] = true
		cursor = next
	}
}

// supports returns false if the server did not advertise the capability
func (c *Client) supports(capability string) bool {
	info := c.ServerInfo()
	return info == nil || info.HasCapability(capability)
}

// ListTools returns the tools offered by the server
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	if !c.supports("tools") {
		return nil, nil
	}
	return list[*Tool](ctx, c, "tools/list", "tools")
}

// ListPrompts returns the prompt templates offered by the server
func (c *Client) ListPrompts(ctx context.Context) ([]*Prompt, error) {
	if !c.supports("prompts") {
		return nil, nil
	}
	return list[*Prompt](ctx, c, "prompts/list", "prompts")
}

// ListResources returns the resources offered by the server
func (c *Client) ListResources(ctx context.Context) ([]*Resource, error) {
	if !c.supports("resources") {
		return nil, nil
	}
	return list[*Resource](ctx, c, "resources/list", "resources")
}

// CallTool invokes the tool. A result with IsError set is returned without error,
// an error response from the server is ErrToolExecution
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	var res callToolResult
	err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, &res)
	if err != nil {
		if _, ok := AsRPCError(err); ok {
			return nil, Classify(err, ErrToolExecution)
		}
		return nil, err
	}

	tr, err := res.toToolResult()
	if err != nil {
		return nil, Classify(errors.Wrap(err, "tools/call: malformed result"), ErrProtocol)
	}
	return tr, nil
}

// ReadResourceContents returns the contents of the resource
func (c *Client) ReadResourceContents(ctx context.Context, uri string) ([]*ResourceContents, error) {
	var res struct {
		Contents []*ResourceContents `json:"contents"`
	}
	err := c.call(ctx, "resources/read", map[string]any{"uri": uri}, &res)
	if err != nil {
		if isNotFound(err) {
			return nil, Classify(err, ErrNotFound)
		}
		return nil, Classify(err, ErrProtocol)
	}
	return res.Contents, nil
}

// ReadResource returns the text of the resource
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	contents, err := c.ReadResourceContents(ctx, uri)
	if err != nil {
		return "", err
	}

	var texts []string
	for _, rc := range contents {
		if rc.Text != "" {
			texts = append(texts, rc.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// GetPrompt expands the prompt template with the arguments
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	var res struct {
		Description string          `json:"description"`
		Messages    []PromptMessage `json:"messages"`
	}
	err := c.call(ctx, "prompts/get", map[string]any{
		"name":      name,
		"arguments": args,
	}, &res)
	if err != nil {
		if isNotFound(err) {
			return nil, Classify(err, ErrNotFound)
		}
		return nil, Classify(err, ErrProtocol)
	}
	return res.Messages, nil
}

// Ping checks that the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, "ping", nil, nil); err != nil {
		return Classify(err, ErrProtocol)
	}
	return nil
}
