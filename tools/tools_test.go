package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mocks/mocktools"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newProvider(ctrl *gomock.Controller, name string, toolNames ...string) *mocktools.MockProvider {
	p := mocktools.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	var list []*mcp.Tool
	for _, n := range toolNames {
		list = append(list, &mcp.Tool{
			Name:        n,
			Description: n + " from " + name,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"doc_id":{"type":"string"}}}`),
		})
	}
	p.EXPECT().ListTools(gomock.Any()).Return(list, nil).AnyTimes()
	return p
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func names(list []*mcp.Tool) []string {
	var res []string
	for _, t := range list {
		res = append(res, t.Name+"@"+t.Description)
	}
	return res
}

func TestParseCollisionPolicy(t *testing.T) {
	for in, exp := range map[string]tools.CollisionPolicy{
		"":           tools.CollisionFirstWins,
		"first_wins": tools.CollisionFirstWins,
		" Dedupe ":   tools.CollisionDedupe,
		"REJECT":     tools.CollisionReject,
	} {
		p, err := tools.ParseCollisionPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, exp, p, in)
	}

	_, err := tools.ParseCollisionPolicy("last_wins")
	assert.EqualError(t, err, `unsupported collision policy: "last_wins"`)
}

func TestAggregateTools(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	docs := newProvider(ctrl, "docs", "read_documents_contents", "edit_document")
	web := newProvider(ctrl, "web", "search", "edit_document")
	empty := newProvider(ctrl, "empty")

	t.Run("first_wins", func(t *testing.T) {
		r := tools.NewRegistry([]tools.Provider{docs, empty, web})
		assert.Equal(t, tools.CollisionFirstWins, r.Policy())
		list, err := r.AggregateTools(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"read_documents_contents@read_documents_contents from docs",
			"edit_document@edit_document from docs",
			"search@search from web",
			"edit_document@edit_document from web",
		}, names(list))
	})

	t.Run("dedupe", func(t *testing.T) {
		r := tools.NewRegistry([]tools.Provider{docs, web}, tools.WithCollisionPolicy(tools.CollisionDedupe))
		list, err := r.AggregateTools(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"read_documents_contents@read_documents_contents from docs",
			"edit_document@edit_document from docs",
			"search@search from web",
		}, names(list))
	})

	t.Run("reject", func(t *testing.T) {
		r := tools.NewRegistry([]tools.Provider{docs, web}, tools.WithCollisionPolicy(tools.CollisionReject))
		_, err := r.AggregateTools(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, tools.ErrToolCollision))
		assert.Contains(t, err.Error(), `"edit_document" is listed by docs and web`)
	})

	t.Run("none", func(t *testing.T) {
		r := tools.NewRegistry(nil)
		list, err := r.AggregateTools(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		schema, err := r.Tools(ctx)
		require.NoError(t, err)
		assert.Empty(t, schema)
	})
}

func TestAggregateToolsError(t *testing.T) {
	ctrl := gomock.NewController(t)

	ok := newProvider(ctrl, "docs", "read_documents_contents")
	broken := mocktools.NewMockProvider(ctrl)
	broken.EXPECT().Name().Return("broken").AnyTimes()
	broken.EXPECT().ListTools(gomock.Any()).Return(nil, errors.New("connection reset"))

	r := tools.NewRegistry([]tools.Provider{ok, broken})
	_, err := r.AggregateTools(context.Background())
	assert.EqualError(t, err, "failed to list tools of broken: connection reset")
}

func TestTools(t *testing.T) {
	ctrl := gomock.NewController(t)

	p := mocktools.NewMockProvider(ctrl)
	p.EXPECT().Name().Return("docs").AnyTimes()
	p.EXPECT().ListTools(gomock.Any()).Return([]*mcp.Tool{
		{Name: "noargs", Description: "no input schema"},
		{Name: "withargs", InputSchema: json.RawMessage(`{"type":"object","required":["a"]}`)},
	}, nil)

	r := tools.NewRegistry([]tools.Provider{p})
	list, err := r.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "function", list[0].Type)
	assert.Equal(t, "noargs", list[0].Function.Name)
	assert.Equal(t, "no input schema", list[0].Function.Description)
	js, err := json.Marshal(list[0].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(js))

	js, err = json.Marshal(list[1].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","required":["a"]}`, string(js))
}

func TestResolve(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	docs := newProvider(ctrl, "docs", "read_documents_contents", "edit_document")
	web := newProvider(ctrl, "web", "search", "edit_document")
	r := tools.NewRegistry([]tools.Provider{docs, web})

	p, err := r.Resolve(ctx, "edit_document")
	require.NoError(t, err)
	assert.Equal(t, "docs", p.Name())

	p, err = r.Resolve(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, "web", p.Name())

	_, err = r.Resolve(ctx, "nonexistent_tool")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrToolNotFound))

	b, err := r.Bindings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Table.Len())
	var keys []string
	for pair := b.Table.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key+"@"+pair.Value.Provider.Name())
	}
	assert.Equal(t, []string{"read_documents_contents@docs", "edit_document@docs", "search@web"}, keys)
	require.Len(t, b.Shadowed, 1)
	assert.Equal(t, "web", b.Shadowed[0].Provider.Name())
}

func TestResolveRelistsEveryTime(t *testing.T) {
	ctrl := gomock.NewController(t)

	p := mocktools.NewMockProvider(ctrl)
	p.EXPECT().Name().Return("docs").AnyTimes()
	gomock.InOrder(
		p.EXPECT().ListTools(gomock.Any()).Return(nil, nil),
		p.EXPECT().ListTools(gomock.Any()).Return([]*mcp.Tool{{Name: "late"}}, nil),
	)

	r := tools.NewRegistry([]tools.Provider{p})
	_, err := r.Resolve(context.Background(), "late")
	assert.True(t, errors.Is(err, tools.ErrToolNotFound))

	found, err := r.Resolve(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "docs", found.Name())
}

func TestParseArguments(t *testing.T) {
	args, err := tools.ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = tools.ParseArguments("  \n")
	require.NoError(t, err)
	assert.NotNil(t, args)

	args, err = tools.ParseArguments(`{"doc_id":"report.pdf","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"doc_id": "report.pdf", "n": float64(2)}, args)

	for _, bad := range []string{`{not json`, `[1,2]`, `"text"`, `null`} {
		_, err = tools.ParseArguments(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, tools.ErrArgumentParse), bad)
	}
}

func TestDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	docs := newProvider(ctrl, "docs", "read_documents_contents", "edit_document", "silent", "failing", "broken")
	docs.EXPECT().CallTool(gomock.Any(), "read_documents_contents", map[string]any{"doc_id": "plan.md"}).
		Return(&mcp.ToolResult{Text: "The plan"}, nil)
	docs.EXPECT().CallTool(gomock.Any(), "silent", map[string]any{}).
		Return(&mcp.ToolResult{}, nil)
	docs.EXPECT().CallTool(gomock.Any(), "failing", gomock.Any()).
		Return(&mcp.ToolResult{IsError: true, Text: "Doc with id x not found!"}, nil)
	docs.EXPECT().CallTool(gomock.Any(), "broken", gomock.Any()).
		Return(nil, errors.New("server went away"))

	r := tools.NewRegistry([]tools.Provider{docs})
	results := r.Dispatch(ctx, []llms.ToolCall{
		toolCall("c1", "read_documents_contents", `{"doc_id":"plan.md"}`),
		toolCall("c2", "nonexistent_tool", `{}`),
		toolCall("c3", "edit_document", `{bad`),
		toolCall("c4", "silent", ``),
		toolCall("c5", "failing", `{"doc_id":"x"}`),
		toolCall("c6", "broken", `{}`),
	})
	require.Len(t, results, 6)

	exp := []tools.Result{
		{ToolCallID: "c1", Name: "read_documents_contents", Text: "The plan"},
		{ToolCallID: "c2", Name: "nonexistent_tool", IsError: true, Text: "Error: Could not find tool 'nonexistent_tool'"},
		{ToolCallID: "c4", Name: "silent", Text: tools.NoContentText},
		{ToolCallID: "c5", Name: "failing", IsError: true, Text: "Tool Execution Error: Doc with id x not found!"},
		{ToolCallID: "c6", Name: "broken", IsError: true, Text: "Error executing tool 'broken': server went away"},
	}
	got := []tools.Result{*results[0], *results[1], *results[3], *results[4], *results[5]}
	assert.Equal(t, exp, got)

	assert.Equal(t, "c3", results[2].ToolCallID)
	assert.True(t, results[2].IsError)
	assert.Contains(t, results[2].Text, "Error: Invalid JSON arguments provided by model: ")

	msg := results[0].Message()
	assert.Equal(t, llms.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID())
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "c1", Name: "read_documents_contents", Content: "The plan"}, results[0].Response())
}

func TestDispatchListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	p := mocktools.NewMockProvider(ctrl)
	p.EXPECT().Name().Return("docs").AnyTimes()
	p.EXPECT().ListTools(gomock.Any()).Return(nil, errors.New("timeout"))

	r := tools.NewRegistry([]tools.Provider{p})
	results := r.Dispatch(context.Background(), []llms.ToolCall{toolCall("c1", "any", "{}")})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "Error executing tool 'any': failed to list tools of docs: timeout", results[0].Text)
}

func TestDispatchEmpty(t *testing.T) {
	r := tools.NewRegistry(nil)
	assert.Empty(t, r.Dispatch(context.Background(), nil))
}
