package docserver_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/docserver"
	"github.com/effective-security/mcpchat/docstore"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mcp/transport/stdio"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connect serves the store in-process and returns a connected client
func connect(t *testing.T, store docstore.Store) *mcp.Client {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	session, err := docserver.New(store).Connect(ctx, &mcpsdk.IOTransport{
		Reader: serverReader,
		Writer: serverWriter,
	}, nil)
	require.NoError(t, err)

	client := mcp.New("docs", stdio.NewWithIO(clientReader, clientWriter), mcp.WithRequestTimeout(10*time.Second))
	require.NoError(t, client.Connect(ctx))

	t.Cleanup(func() {
		_ = client.Close()
		_ = session.Close()
		cancel()
	})
	return client
}

func TestInitialize(t *testing.T) {
	client := connect(t, docstore.NewDefaultStore())

	info := client.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, docserver.ServerName, info.ServerInfo.Name)
	assert.Equal(t, docserver.Instructions, info.Instructions)
	assert.True(t, info.HasCapability("tools"))
	assert.True(t, info.HasCapability("prompts"))
	assert.True(t, info.HasCapability("resources"))

	require.NoError(t, client.Ping(context.Background()))
}

func TestTools(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewDefaultStore()
	client := connect(t, store)

	list, err := client.ListTools(ctx)
	require.NoError(t, err)
	var names []string
	for _, tool := range list {
		names = append(names, tool.Name)

		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.InputSchema, &schema))
		assert.Equal(t, "object", schema["type"])
	}
	assert.ElementsMatch(t, []string{docserver.ReadToolName, docserver.EditToolName}, names)

	res, err := client.CallTool(ctx, docserver.ReadToolName, map[string]any{"doc_id": "design.md"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "The design describes the architectural and engineering approach.", res.Text)

	res, err = client.CallTool(ctx, docserver.ReadToolName, map[string]any{"doc_id": "missing.md"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error executing tool read_documents_contents: Doc with id missing.md not found!", res.Text)

	res, err = client.CallTool(ctx, docserver.ReadToolName, nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "doc_id")

	res, err = client.CallTool(ctx, docserver.EditToolName, map[string]any{
		"doc_id":  "design.md",
		"old_str": "The design",
		"new_str": "This design",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, res.Text)

	content, err := store.Read(ctx, "design.md")
	require.NoError(t, err)
	assert.Equal(t, "This design describes the architectural and engineering approach.", content)

	// an empty replacement removes the text
	res, err = client.CallTool(ctx, docserver.EditToolName, map[string]any{
		"doc_id":  "design.md",
		"old_str": " and engineering",
		"new_str": "",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	content, err = store.Read(ctx, "design.md")
	require.NoError(t, err)
	assert.Equal(t, "This design describes the architectural approach.", content)

	res, err = client.CallTool(ctx, docserver.EditToolName, map[string]any{
		"doc_id":  "design.md",
		"old_str": "design",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "new_str")

	res, err = client.CallTool(ctx, docserver.EditToolName, map[string]any{
		"doc_id":  "missing.md",
		"old_str": "a",
		"new_str": "b",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error executing tool edit_document: Doc with id missing.md not found!", res.Text)
}

func TestResources(t *testing.T) {
	ctx := context.Background()
	client := connect(t, docstore.NewDefaultStore())

	list, err := client.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, docserver.DocumentsURI, list[0].URI)
	assert.Equal(t, "application/json", list[0].MimeType)

	js, err := client.ReadResource(ctx, docserver.DocumentsURI)
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(js), &ids))
	expected, err := docstore.NewDefaultStore().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, ids)

	contents, err := client.ReadResourceContents(ctx, "docs://documents/review.md")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "text/plain", contents[0].MimeType)
	assert.Equal(t, "The review captures stakeholder feedback and proposed revisions.", contents[0].Text)

	_, err = client.ReadResource(ctx, "docs://documents/missing.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrNotFound))
}

func TestPrompts(t *testing.T) {
	ctx := context.Background()
	client := connect(t, docstore.NewDefaultStore())

	list, err := client.ListPrompts(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range list {
		names = append(names, p.Name)
		require.Len(t, p.Arguments, 1)
		assert.Equal(t, docserver.DocIDArgument, p.Arguments[0].Name)
		assert.True(t, p.Arguments[0].Required)
	}
	assert.ElementsMatch(t, []string{"rephrase", "summarize"}, names)

	msgs, err := client.GetPrompt(ctx, "rephrase", map[string]string{"doc_id": "design.md"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	text := msgs[0].Content.Flatten()
	assert.Contains(t, text, "Your goal is to rephrase a document")
	assert.Contains(t, text, "<document_id>\ndesign.md\n</document_id>")
	assert.Contains(t, text, "Use the 'edit_document' tool to edit the document.")

	_, err = client.GetPrompt(ctx, "rephrase", nil)
	require.Error(t, err)

	_, err = client.GetPrompt(ctx, "translate", map[string]string{"doc_id": "design.md"})
	require.Error(t, err)
}

func TestPromptFormat(t *testing.T) {
	for _, p := range docserver.Prompts() {
		text, err := p.Format("report.pdf")
		require.NoError(t, err, p.Name)
		assert.Contains(t, text, "<document_id>\nreport.pdf\n</document_id>", p.Name)

		_, err = p.Format("")
		assert.EqualError(t, err, "missing required argument: doc_id", p.Name)
	}
}
