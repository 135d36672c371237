package stdio_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/effective-security/mcpchat/mcp/transport"
	"github.com/effective-security/mcpchat/mcp/transport/stdio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "MCPCHAT_STDIO_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		echoServer(os.Stdin, os.Stdout)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// echoServer answers every request with its params
func echoServer(r io.Reader, w io.Writer) {
	fmt.Fprintln(os.Stderr, "echo server started")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		msg, err := transport.ParseMessage(scanner.Bytes())
		if err != nil || msg.Type != transport.BaseMessageTypeJSONRPCRequestType {
			continue
		}
		result := msg.JsonRpcRequest.Params
		if result == nil {
			result = json.RawMessage(`{}`)
		}
		b, _ := json.Marshal(transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      msg.JsonRpcRequest.Id,
			Result:  result,
		}))
		fmt.Fprintf(w, "%s\n", b)
	}
}

type collector struct {
	lock sync.Mutex
	msgs []*transport.BaseJsonRpcMessage
	errs []error
}

func (c *collector) onMessage(_ context.Context, m *transport.BaseJsonRpcMessage) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) onError(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) count() (int, int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.msgs), len(c.errs)
}

func request(id transport.RequestId, method, params string) *transport.BaseJsonRpcMessage {
	return transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Id:      id,
		Method:  method,
		Params:  json.RawMessage(params),
	})
}

func TestSubprocess(t *testing.T) {
	ctx := context.Background()
	exe, err := os.Executable()
	require.NoError(t, err)

	tr := stdio.New(exe, nil, []string{helperEnv + "=1"})
	assert.Equal(t, []string{exe}, tr.Command())

	c := &collector{}
	closed := make(chan struct{})
	tr.SetMessageHandler(c.onMessage)
	tr.SetErrorHandler(c.onError)
	tr.SetCloseHandler(func() { close(closed) })

	require.NoError(t, tr.Start(ctx))
	assert.Error(t, tr.Start(ctx))

	require.NoError(t, tr.Send(ctx, request(1, "echo", `{"hello":"world"}`)))
	require.NoError(t, tr.Send(ctx, request(2, "echo", `{"n":2}`)))

	require.Eventually(t, func() bool {
		n, _ := c.count()
		return n == 2
	}, 5*time.Second, 10*time.Millisecond)

	c.lock.Lock()
	assert.Equal(t, transport.RequestId(1), c.msgs[0].MessageID())
	assert.JSONEq(t, `{"hello":"world"}`, string(c.msgs[0].JsonRpcResponse.Result))
	assert.Equal(t, transport.RequestId(2), c.msgs[1].MessageID())
	c.lock.Unlock()

	require.NoError(t, tr.Close())
	<-closed
	require.NoError(t, tr.Close())
	assert.Error(t, tr.Send(ctx, request(3, "echo", `{}`)))
}

func TestStartFailure(t *testing.T) {
	tr := stdio.New("/nonexistent/mcp-server", []string{"--stdio"}, nil)
	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start command /nonexistent/mcp-server")

	err = stdio.New("", nil, nil).Start(context.Background())
	assert.EqualError(t, err, "empty command for stdio transport")
}

func TestWithIO(t *testing.T) {
	ctx := context.Background()
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	tr := stdio.NewWithIO(clientIn, clientOut)
	c := &collector{}
	closed := make(chan struct{})
	tr.SetMessageHandler(c.onMessage)
	tr.SetErrorHandler(c.onError)
	tr.SetCloseHandler(func() { close(closed) })
	require.NoError(t, tr.Start(ctx))

	go func() {
		r := bufio.NewReader(serverIn)
		line, _ := r.ReadString('\n')
		msg, _ := transport.ParseMessage([]byte(line))
		// garbage, blank line, a notification, then the response
		fmt.Fprintf(serverOut, "not json\n\n")
		fmt.Fprintf(serverOut, `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`+"\n")
		fmt.Fprintf(serverOut, `{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`+"\n", msg.MessageID())
		_ = serverOut.Close()
	}()

	require.NoError(t, tr.Send(ctx, request(9, "ping", `{}`)))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("transport was not closed on EOF")
	}

	msgs, errs := c.count()
	assert.Equal(t, 2, msgs)
	assert.Equal(t, 1, errs)

	c.lock.Lock()
	defer c.lock.Unlock()
	assert.Equal(t, transport.BaseMessageTypeJSONRPCNotificationType, c.msgs[0].Type)
	assert.Equal(t, transport.RequestId(9), c.msgs[1].MessageID())
	assert.Contains(t, c.errs[0].Error(), "failed to parse message: not json")
}
