package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/chat/preprocessor"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/docserver"
	"github.com/effective-security/mcpchat/docstore"
	"github.com/effective-security/mcpchat/mcp/transport/sse"
	"github.com/effective-security/mcpchat/mcp/transport/stdio"
	"github.com/effective-security/mcpchat/mocks/mockllms"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// testApp returns an app connected to the in-process documentation server
func testApp(t *testing.T, model llms.Model) *app {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	session, err := docserver.New(docstore.NewDefaultStore()).Connect(ctx, &mcpsdk.IOTransport{
		Reader: serverReader,
		Writer: serverWriter,
	}, nil)
	require.NoError(t, err)

	a := &app{plain: true}
	a.docs, err = a.connect(ctx, DocsServerName, stdio.NewWithIO(clientReader, clientWriter))
	require.NoError(t, err)

	a.registry = tools.NewRegistry([]tools.Provider{a.docs})
	a.prep = preprocessor.New(a.docs)
	if model != nil {
		a.engine = chat.NewEngine(model, a.registry, chat.WithPreprocessor(a.prep))
	}

	t.Cleanup(func() {
		a.Close()
		_ = session.Close()
		cancel()
	})
	return a
}

func newModel(ctrl *gomock.Controller) *mockllms.MockModel {
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("gpt-test").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	return m
}

func TestREPLCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := testApp(t, newModel(ctrl))

	in := strings.NewReader("/help\n/docs\n\n/tools\n/clear\nexit\n/docs\n")
	var out bytes.Buffer
	require.NoError(t, a.repl(context.Background(), in, &out))

	text := out.String()
	assert.Contains(t, text, "/rephrase <doc_id>\tRewrites the contents of the document in different way.")
	assert.Contains(t, text, "/summarize <doc_id>")
	assert.Contains(t, text, "@inspection.md\n")
	assert.Contains(t, text, "@review.md\n")
	assert.Contains(t, text, "read_documents_contents [docs]")
	assert.Contains(t, text, "edit_document [docs]")
	assert.Contains(t, text, "Conversation cleared.")
	// the input after exit is not read
	assert.Equal(t, 1, strings.Count(text, "Documents:"))
}

func TestREPLQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newModel(ctrl)
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("boom")),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Hi there", StopReason: "stop"}}}, nil),
	)

	a := testApp(t, model)
	in := strings.NewReader("hello\nhello again\n")
	var out bytes.Buffer
	require.NoError(t, a.repl(context.Background(), in, &out))

	text := out.String()
	assert.Contains(t, text, "Error: failed to generate content: boom")
	assert.Contains(t, text, "\nHi there\n")
	assert.Equal(t, chat.AwaitingUserInput, a.engine.State())
}

func TestREPLWithoutModel(t *testing.T) {
	a := testApp(t, nil)

	var out bytes.Buffer
	require.NoError(t, a.repl(context.Background(), strings.NewReader("hello\nquit\n"), &out))
	assert.Contains(t, out.String(), "Error: model is not configured")
}

func TestPrintToolsShadowed(t *testing.T) {
	a := testApp(t, nil)
	registry := tools.NewRegistry([]tools.Provider{a.docs, a.docs})

	var out bytes.Buffer
	require.NoError(t, printTools(context.Background(), registry, &out))
	assert.Contains(t, out.String(), "Shadowed (first_wins):")
}

func TestDocsTransport(t *testing.T) {
	tr, err := docsTransport(&config.DocsConfig{URL: "http://localhost:8080/sse"})
	require.NoError(t, err)
	sseTr, ok := tr.(*sse.Transport)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080/sse", sseTr.URL())

	tr, err = docsTransport(&config.DocsConfig{Command: "python", Args: []string{"mcp_server.py"}})
	require.NoError(t, err)
	stdioTr, ok := tr.(*stdio.Transport)
	require.True(t, ok)
	assert.Equal(t, []string{"python", "mcp_server.py"}, stdioTr.Command())

	tr, err = docsTransport(&config.DocsConfig{RedisURL: "redis://localhost:6379/0", RedisPrefix: "test"})
	require.NoError(t, err)
	stdioTr, ok = tr.(*stdio.Transport)
	require.True(t, ok)
	assert.Equal(t, []string{"docs-server", "--redis-url", "redis://localhost:6379/0", "--redis-prefix", "test"}, stdioTr.Command()[1:])
}

func TestServerTransport(t *testing.T) {
	tr := serverTransport(&config.ServerConfig{Name: "search", URL: "http://localhost:8080/sse"})
	_, ok := tr.(*sse.Transport)
	assert.True(t, ok)

	tr = serverTransport(&config.ServerConfig{Name: "weather", Command: "uv", Args: []string{"run", "weather.py"}})
	stdioTr, ok := tr.(*stdio.Transport)
	require.True(t, ok)
	assert.Equal(t, []string{"uv", "run", "weather.py"}, stdioTr.Command())
}

func TestScriptTransport(t *testing.T) {
	tr, ok := scriptTransport("uv run", "/home/me/My Servers/weather.py").(*stdio.Transport)
	require.True(t, ok)
	assert.Equal(t, []string{"uv", "run", "/home/me/My Servers/weather.py"}, tr.Command())

	tr, ok = scriptTransport("  ", "./weather server").(*stdio.Transport)
	require.True(t, ok)
	assert.Equal(t, []string{"./weather server"}, tr.Command())
}

func TestScriptName(t *testing.T) {
	assert.Equal(t, "weather", scriptName("./servers/weather.py"))
	assert.Equal(t, "tools", scriptName("tools"))
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, loadEnv(""))
	require.NoError(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))

	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("MCPCHAT_TEST_ENV=loaded\n"), 0o600))
	t.Setenv("MCPCHAT_TEST_ENV", "")
	require.NoError(t, os.Unsetenv("MCPCHAT_TEST_ENV"))

	require.NoError(t, loadEnv(file))
	assert.Equal(t, "loaded", os.Getenv("MCPCHAT_TEST_ENV"))
}

func TestOpenStore(t *testing.T) {
	store, closer, err := openStore(context.Background(), &docsServerFlags{})
	require.NoError(t, err)
	defer closer()

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 10)

	_, _, err = openStore(context.Background(), &docsServerFlags{redisURL: "not a url"})
	assert.Error(t, err)
}

func TestConfigCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--env-file", "", "--url", "http://localhost:9000/sse"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "log_level: WARNING")
	assert.Contains(t, text, "url: http://localhost:9000/sse")
	assert.Contains(t, text, "name: openai")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, xlog.DEBUG, logLevel("debug"))
	assert.Equal(t, xlog.ERROR, logLevel("ERROR"))
	assert.Equal(t, xlog.WARNING, logLevel(""))
	assert.Equal(t, xlog.WARNING, logLevel("loud"))
}
