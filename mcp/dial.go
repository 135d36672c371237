package mcp

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/mcpchat/mcp/transport/sse"
	"github.com/effective-security/mcpchat/mcp/transport/stdio"
)

// NewTransport returns the transport for the spec: an http(s) URL
// selects SSE, anything else is a command line run over stdio.
// env entries in KEY=VALUE form are passed to the subprocess.
func NewTransport(spec string, env []string) (transport.Transport, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return sse.New(spec), nil
	}

	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return nil, errors.New("empty server spec")
	}
	return stdio.New(fields[0], fields[1:], env), nil
}

// Dial creates and connects a client for the spec
func Dial(ctx context.Context, name, spec string, env []string, opts ...Option) (*Client, error) {
	tr, err := NewTransport(spec, env)
	if err != nil {
		return nil, Classify(err, ErrConnection)
	}
	c := New(name, tr, opts...)
	if err = c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
