package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/chat/preprocessor"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/mcpchat/mcp/transport/sse"
	"github.com/effective-security/mcpchat/mcp/transport/stdio"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
)

// DocsServerName identifies the documentation server in logs and tool bindings
const DocsServerName = "docs"

// app holds the connected servers and the engine of a chat session
type app struct {
	docs     *mcp.Client
	clients  []*mcp.Client
	registry *tools.Registry
	prep     *preprocessor.Preprocessor
	engine   *chat.Engine
	pad      *callbacks.Scratchpad
	mode     callbacks.Mode
	plain    bool
}

// newApp connects the documentation server, the server scripts and the
// configured servers. Any connection failure closes what was opened.
func newApp(ctx context.Context, cfg *config.Config, f *flags, scripts []string) (*app, error) {
	timeout, err := cfg.Chat.Timeout()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Chat.Policy()
	if err != nil {
		return nil, err
	}

	a := &app{
		plain: f.plain,
		mode:  callbacks.ModeDefault,
	}
	if f.verbose {
		a.mode = callbacks.ModeVerbose
	}

	docsTransport, err := docsTransport(&cfg.Docs)
	if err != nil {
		return nil, err
	}
	a.docs, err = a.connect(ctx, DocsServerName, docsTransport, mcp.WithRequestTimeout(timeout))
	if err != nil {
		a.Close()
		return nil, err
	}

	for _, script := range scripts {
		tr := scriptTransport(f.runner, script)
		if _, err = a.connect(ctx, scriptName(script), tr, mcp.WithRequestTimeout(timeout)); err != nil {
			a.Close()
			return nil, err
		}
	}

	for _, s := range cfg.Servers {
		if _, err = a.connect(ctx, s.Name, serverTransport(s), mcp.WithRequestTimeout(timeout)); err != nil {
			a.Close()
			return nil, err
		}
	}

	providers := make([]tools.Provider, 0, len(a.clients))
	for _, c := range a.clients {
		providers = append(providers, c)
	}
	a.registry = tools.NewRegistry(providers, tools.WithCollisionPolicy(policy))
	a.prep = preprocessor.New(a.docs)
	return a, nil
}

func (a *app) connect(ctx context.Context, name string, tr transport.Transport, opts ...mcp.Option) (*mcp.Client, error) {
	c := mcp.New(name, tr, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	a.clients = append(a.clients, c)

	logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "server", name)
	return c, nil
}

// withModel creates the model and the engine
func (a *app) withModel(cfg *config.Config) error {
	model, err := llmfactory.New(&cfg.LLM).DefaultModel()
	if err != nil {
		return errors.WithMessage(err, "failed to create model")
	}

	a.pad = callbacks.NewScratchpad(a.mode)
	cb := callbacks.NewFanout(
		callbacks.NewPackageLogger(logger),
		callbacks.NewPrinter(os.Stderr, a.mode),
		a.pad,
	)

	opts := append(cfg.Chat.Options(),
		chat.WithPreprocessor(a.prep),
		chat.WithCallback(cb),
	)
	a.engine = chat.NewEngine(model, a.registry, opts...)
	return nil
}

// Close closes every connected server
func (a *app) Close() {
	for _, c := range a.clients {
		if err := c.Close(); err != nil {
			logger.KV(xlog.DEBUG, "server", c.Name(), "err", err.Error())
		}
	}
	a.clients = nil
}

// docsTransport returns the transport of the documentation server:
// the SSE URL, the configured command, or the built-in server run by this binary
func docsTransport(cfg *config.DocsConfig) (transport.Transport, error) {
	if cfg.URL != "" {
		return sse.New(cfg.URL), nil
	}
	if cfg.Command != "" {
		return stdio.New(cfg.Command, cfg.Args, nil), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, mcp.Classify(errors.Wrap(err, "failed to locate the documentation server"), mcp.ErrConnection)
	}
	args := []string{"docs-server"}
	if cfg.RedisURL != "" {
		args = append(args, "--redis-url", cfg.RedisURL, "--redis-prefix", cfg.RedisPrefix)
	}
	return stdio.New(exe, args, nil), nil
}

func serverTransport(s *config.ServerConfig) transport.Transport {
	if s.URL != "" {
		return sse.New(s.URL)
	}
	return stdio.New(s.Command, s.Args, s.Environ())
}

// scriptTransport runs the script with the runner command line,
// the script path is passed as a single argument
func scriptTransport(runner, script string) transport.Transport {
	fields := strings.Fields(runner)
	if len(fields) == 0 {
		return stdio.New(script, nil, nil)
	}
	return stdio.New(fields[0], append(fields[1:], script), nil)
}

// scriptName returns the server name of a script, e.g. weather for ./servers/weather.py
func scriptName(script string) string {
	base := filepath.Base(script)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
