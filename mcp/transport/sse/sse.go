// Package sse implements the MCP client transport over server-sent events:
// a long lived GET stream delivers an `endpoint` event followed by `message`
// events, and client messages are POSTed to the announced endpoint.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat/mcp/transport", "sse")

// DefaultEndpointTimeout bounds the wait for the endpoint event
const DefaultEndpointTimeout = 30 * time.Second

// Doer is the HTTP client interface used by the transport
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures the transport
type Option func(*Transport)

// WithHTTPClient sets the HTTP client, it must not set a request timeout
// as the event stream is long lived
func WithHTTPClient(client Doer) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers[key] = value
	}
}

// WithEndpointTimeout sets how long Start waits for the endpoint event
func WithEndpointTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.endpointTimeout = timeout
	}
}

// Transport implements transport.Transport over SSE
type Transport struct {
	baseURL         string
	client          Doer
	headers         map[string]string
	endpointTimeout time.Duration

	mu             sync.RWMutex
	postURL        string
	endpoint       chan struct{}
	endpointOnce   sync.Once
	done           chan struct{}
	cancel         context.CancelFunc
	messageHandler transport.MessageHandler
	errorHandler   func(error)
	closeHandler   func()
	started        bool
	closed         bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport connecting to the SSE stream at the URL
func New(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:         baseURL,
		client:          http.DefaultClient,
		headers:         make(map[string]string),
		endpointTimeout: DefaultEndpointTimeout,
		endpoint:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// URL returns the stream URL
func (t *Transport) URL() string {
	return t.baseURL
}

// Endpoint returns the POST endpoint announced by the server
func (t *Transport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.postURL
}

// Start opens the event stream and waits for the endpoint event
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("transport already started")
	}
	t.started = true

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "failed to connect to SSE endpoint %s", t.baseURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return errors.Errorf("SSE endpoint %s returned status %d", t.baseURL, resp.StatusCode)
	}

	go t.readLoop(resp.Body)

	timer := time.NewTimer(t.endpointTimeout)
	defer timer.Stop()

	select {
	case <-t.endpoint:
		t.logConnected(ctx)
		return nil
	case <-t.done:
		return errors.Errorf("SSE stream %s closed before the endpoint event", t.baseURL)
	case <-ctx.Done():
		_ = t.Close()
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		_ = t.Close()
		return errors.Errorf("timeout waiting for endpoint event from %s", t.baseURL)
	}
}

func (t *Transport) logConnected(ctx context.Context) {
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connected",
		"url", t.baseURL,
		"endpoint", t.Endpoint(),
	)
}

func (t *Transport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

// readLoop parses the event stream until it ends
func (t *Transport) readLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	eventType := ""
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				t.handleEvent(values.StringsCoalesce(eventType, "message"), strings.TrimSuffix(data.String(), "\n"))
			}
			eventType = ""
			data.Reset()
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
		default:
			// comments, id and retry fields are ignored
		}
	}

	if err := scanner.Err(); err != nil && !t.isClosed() {
		t.reportError(errors.Wrap(err, "SSE read error"))
	}

	logger.KV(xlog.DEBUG, "status", "stream_closed", "url", t.baseURL)
	_ = t.Close()
}

func (t *Transport) handleEvent(eventType, data string) {
	switch eventType {
	case "endpoint":
		endpoint, err := t.resolveURL(data)
		if err != nil {
			t.reportError(errors.Wrapf(err, "invalid endpoint: %s", data))
			return
		}
		t.mu.Lock()
		t.postURL = endpoint
		t.mu.Unlock()
		t.endpointOnce.Do(func() {
			close(t.endpoint)
		})
	case "message":
		t.deliver([]byte(data))
	default:
		logger.KV(xlog.DEBUG, "status", "ignored_event", "event", eventType)
	}
}

func (t *Transport) deliver(data []byte) {
	msg, err := transport.ParseMessage(data)
	if err != nil {
		t.reportError(errors.Wrapf(err, "failed to parse message: %s", data))
		return
	}

	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(context.Background(), msg)
	}
}

// resolveURL resolves the endpoint against the stream URL,
// the endpoint must stay on the same origin
func (t *Transport) resolveURL(endpoint string) (string, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", errors.WithStack(err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.WithStack(err)
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != base.Scheme || resolved.Host != base.Host {
		return "", errors.Errorf("endpoint origin %s://%s does not match %s://%s",
			resolved.Scheme, resolved.Host, base.Scheme, base.Host)
	}
	return resolved.String(), nil
}

func (t *Transport) reportError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(err)
	} else {
		logger.KV(xlog.ERROR, "url", t.baseURL, "err", err.Error())
	}
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Send POSTs the message to the endpoint
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.RLock()
	postURL := t.postURL
	closed := t.closed
	t.mu.RUnlock()

	if closed || postURL == "" {
		return errors.New("transport is not connected")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// some servers reply inline instead of over the stream
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" && len(bytes.TrimSpace(respBody)) > 0 {
		t.deliver(respBody)
	}
	return nil
}

// Close implements Transport.Close
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	cancel := t.cancel
	handler := t.closeHandler
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *Transport) SetMessageHandler(handler transport.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}
