// Package stdio implements an MCP client transport over the standard
// input and output of a subprocess, one JSON-RPC message per line.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat/mcp/transport", "stdio")

const (
	// MaxMessageSize is the largest line accepted from the server
	MaxMessageSize = 10 * 1024 * 1024
	// ShutdownTimeout is how long Close waits for the subprocess to exit
	ShutdownTimeout = 2 * time.Second
)

// Transport implements transport.Transport over stdio
type Transport struct {
	command string
	args    []string
	env     []string

	cmd    *exec.Cmd
	reader io.Reader
	writer io.WriteCloser

	mu             sync.RWMutex
	writeLock      sync.Mutex
	messageHandler transport.MessageHandler
	errorHandler   func(error)
	closeHandler   func()
	started        bool
	closed         bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport that spawns the command on Start,
// env entries in KEY=VALUE form are added to the current environment
func New(command string, args []string, env []string) *Transport {
	return &Transport{
		command: command,
		args:    args,
		env:     env,
	}
}

// NewWithIO returns a transport over already connected streams
func NewWithIO(reader io.Reader, writer io.WriteCloser) *Transport {
	return &Transport{
		reader: reader,
		writer: writer,
	}
}

// Command returns the command line of the subprocess
func (t *Transport) Command() []string {
	return append([]string{t.command}, t.args...)
}

// Start implements Transport.Start
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.New("transport already started")
	}

	if t.reader == nil {
		if err := t.spawn(); err != nil {
			return err
		}
	}
	t.started = true

	go t.readLoop(t.reader)
	return nil
}

func (t *Transport) spawn() error {
	if t.command == "" {
		return errors.New("empty command for stdio transport")
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = append(os.Environ(), t.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start command %s", t.command)
	}

	logger.KV(xlog.DEBUG,
		"status", "started",
		"command", t.command,
		"args", t.args,
		"pid", cmd.Process.Pid,
	)

	t.cmd = cmd
	t.reader = stdout
	t.writer = stdin

	go t.readStderr(stderr)
	return nil
}

func (t *Transport) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.KV(xlog.DEBUG, "command", t.command, "stderr", scanner.Text())
	}
}

func (t *Transport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	ctx := context.Background()
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := transport.ParseMessage(line)
		if err != nil {
			t.reportError(errors.Wrapf(err, "failed to parse message: %s", line))
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(ctx, msg)
		}
	}

	if err := scanner.Err(); err != nil && !t.isClosed() {
		t.reportError(errors.Wrap(err, "failed to read from server"))
	}

	logger.KV(xlog.DEBUG, "status", "eof", "command", t.command)
	_ = t.Close()
}

func (t *Transport) reportError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(err)
	} else {
		logger.KV(xlog.ERROR, "command", t.command, "err", err.Error())
	}
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Send implements Transport.Send
func (t *Transport) Send(_ context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.RLock()
	w := t.writer
	closed := t.closed
	t.mu.RUnlock()

	if w == nil || closed {
		return errors.New("transport is not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to write message")
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
	cmd := t.cmd
	w := t.writer
	r := t.reader
	handler := t.closeHandler
	t.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	if cmd == nil {
		if rc, ok := r.(io.Closer); ok {
			_ = rc.Close()
		}
	} else {
		waitOrKill(cmd, t.command)
	}

	if handler != nil {
		handler()
	}
	return nil
}

// waitOrKill waits for the process to exit after its stdin was closed
func waitOrKill(cmd *exec.Cmd, command string) {
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.KV(xlog.DEBUG, "status", "exited", "command", command, "err", err.Error())
		}
	case <-time.After(ShutdownTimeout):
		logger.KV(xlog.WARNING, "status", "killing", "command", command)
		_ = cmd.Process.Kill()
		<-done
	}
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
