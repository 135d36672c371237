package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        []anthropic.Option
		wantErr     bool
		errContains string
	}{
		{
			name:        "missing token",
			opts:        []anthropic.Option{anthropic.WithModel("claude-3-5-sonnet-20241022")},
			wantErr:     true,
			errContains: "missing API key",
		},
		{
			name:        "missing model",
			opts:        []anthropic.Option{anthropic.WithToken("fake-token")},
			wantErr:     true,
			errContains: "model is required",
		},
		{
			name: "valid configuration",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-3-5-sonnet-20241022"),
			},
		},
		{
			name: "with custom base URL",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-3-5-sonnet-20241022"),
				anthropic.WithBaseURL("https://custom.anthropic.com"),
			},
		},
		{
			name: "with custom HTTP client",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-3-5-sonnet-20241022"),
				anthropic.WithHTTPClient(&http.Client{}),
			},
		},
	}

	t.Setenv(anthropic.TokenEnvVarName, "")
	t.Setenv(anthropic.ModelEnvVarName, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allm, err := anthropic.New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, allm)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, allm.Client)
				assert.NotNil(t, allm.Options)
				assert.Equal(t, llms.ProviderAnthropic, allm.GetProviderType())
			}
		})
	}
}

func TestNewWithEnvironmentVariable(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "env-token")
	t.Setenv(anthropic.ModelEnvVarName, "claude-env")

	llm, err := anthropic.New()
	require.NoError(t, err)
	assert.Equal(t, "env-token", llm.Options.Token)
	assert.Equal(t, "claude-env", llm.GetName())
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func TestProcessMessages(t *testing.T) {
	tests := []struct {
		name         string
		messages     []llms.Message
		wantMessages int
		wantSystem   string
		errContains  string
	}{
		{
			name: "empty messages",
		},
		{
			name: "multiple system messages",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleSystem, "You are a helpful assistant."),
				llms.MessageFromTextParts(llms.RoleSystem, "Always be polite and respectful."),
			},
			wantSystem: "You are a helpful assistant.\nAlways be polite and respectful.",
		},
		{
			name: "user message with text",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleUser, "Hello, how are you?"),
			},
			wantMessages: 1,
		},
		{
			name: "tool round",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleUser, "What is in the report?"),
				llms.MessageFromParts(llms.RoleAssistant,
					llms.TextPart("Let me check."),
					toolCall("call_1", "read_documents_contents", `{"doc_id":"report.pdf"}`),
					toolCall("call_2", "read_documents_contents", ``),
				),
				llms.MessageFromToolResponse(llms.ToolCallResponse{ToolCallID: "call_1", Content: "The report"}),
				llms.MessageFromToolResponse(llms.ToolCallResponse{ToolCallID: "call_2", Content: "Error"}),
				llms.MessageFromTextParts(llms.RoleAssistant, "The report."),
			},
			// the tool results are merged in one user message
			wantMessages: 4,
		},
		{
			name: "assistant message with invalid arguments",
			messages: []llms.Message{
				llms.MessageFromParts(llms.RoleAssistant, toolCall("call_1", "read", `{bad`)),
			},
			errContains: "failed to unmarshal tool call arguments",
		},
		{
			name: "unsupported role",
			messages: []llms.Message{
				llms.MessageFromTextParts("generic", "Generic message"),
			},
			errContains: "unsupported message type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, system, err := anthropic.ProcessMessages(tt.messages)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Len(t, messages, tt.wantMessages)
			assert.Equal(t, tt.wantSystem, system)
		})
	}
}

func TestToTools(t *testing.T) {
	tools, err := anthropic.ToTools(nil)
	require.NoError(t, err)
	assert.Nil(t, tools)

	tools, err = anthropic.ToTools([]llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "read_documents_contents",
				Description: "Read the contents of a document",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"doc_id":{"type":"string"}},"required":["doc_id"]}`),
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:       "ping",
				Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, tools, 2)

	read := tools[0].OfTool
	require.NotNil(t, read)
	assert.Equal(t, "read_documents_contents", read.Name)
	assert.Equal(t, []string{"doc_id"}, read.InputSchema.Required)
	assert.Contains(t, read.InputSchema.Properties, "doc_id")

	ping := tools[1].OfTool
	require.NotNil(t, ping)
	assert.Empty(t, ping.InputSchema.Required)
}

func TestStopReason(t *testing.T) {
	assert.Equal(t, llms.StopReasonToolCalls, anthropic.StopReason("tool_use"))
	assert.Equal(t, llms.StopReasonStop, anthropic.StopReason("end_turn"))
	assert.Equal(t, llms.StopReasonStop, anthropic.StopReason("stop_sequence"))
	assert.Equal(t, llms.StopReasonLength, anthropic.StopReason("max_tokens"))
	assert.Equal(t, "refusal", anthropic.StopReason("refusal"))
}

const messageResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [
    {"type": "text", "text": "Let me read it."},
    {"type": "tool_use", "id": "toolu_01", "name": "read_documents_contents", "input": {"doc_id": "report.pdf"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 7}
}`

func TestGenerateContent(t *testing.T) {
	var request map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "fake-token", r.Header.Get("X-Api-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &request))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageResponse))
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-test"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleUser, "What is in report.pdf?")},
		llms.WithSystemPrompt("be brief"),
		llms.WithTemperature(1.5),
	)
	require.NoError(t, err)

	assert.Equal(t, "claude-test", request["model"])
	assert.Equal(t, 1.0, request["temperature"])
	assert.EqualValues(t, anthropic.DefaultMaxTokens, request["max_tokens"])
	assert.NotNil(t, request["system"])

	require.Len(t, resp.Choices, 1)
	choice := resp.Choices[0]
	assert.Equal(t, "Let me read it.", choice.Content)
	assert.Equal(t, llms.StopReasonToolCalls, choice.StopReason)
	require.Len(t, choice.ToolCalls, 1)
	assert.Equal(t, "toolu_01", choice.ToolCalls[0].ID)
	assert.Equal(t, "read_documents_contents", choice.ToolCalls[0].Name())
	assert.JSONEq(t, `{"doc_id":"report.pdf"}`, choice.ToolCalls[0].Arguments())
	assert.True(t, llms.IsToolCallResponse(choice))
	assert.EqualValues(t, 19, choice.GenerationInfo["TotalTokens"])
}

func TestGenerateContentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-test"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	_, err = llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleUser, "hello")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: failed to create message")
}
