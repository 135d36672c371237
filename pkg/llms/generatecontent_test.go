package llms_test

import (
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextParts(t *testing.T) {
	t.Parallel()
	type args struct {
		role  llms.Role
		parts []string
	}
	tests := []struct {
		name string
		args args
		want llms.Message
	}{
		{
			"basics",
			args{
				llms.RoleUser,
				[]string{"a", "b", "c"},
			},
			llms.Message{
				Role: llms.RoleUser,
				Parts: []llms.ContentPart{
					llms.TextContent{Text: "a"},
					llms.TextContent{Text: "b"},
					llms.TextContent{Text: "c"},
				},
			},
		},
		{
			"empty",
			args{
				llms.RoleSystem,
				nil,
			},
			llms.Message{
				Role:  llms.RoleSystem,
				Parts: []llms.ContentPart{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mc := llms.MessageFromTextParts(tt.args.role, tt.args.parts...)
			assert.Equal(t, tt.want, mc)
		})
	}
}

func TestAssistantMessage(t *testing.T) {
	t.Parallel()

	choice := &llms.ContentChoice{
		Content:    "let me check",
		StopReason: llms.StopReasonToolCalls,
		ToolCalls: []llms.ToolCall{
			{ID: "call_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "read_documents_contents", Arguments: `{"doc_id":"design.md"}`}},
			{ID: "call_2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "edit_document", Arguments: `{}`}},
		},
	}

	msg := llms.AssistantMessage(choice)
	assert.Equal(t, llms.RoleAssistant, msg.Role)
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "let me check", msg.Text())

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "read_documents_contents", calls[0].Name())
	assert.Equal(t, `{"doc_id":"design.md"}`, calls[0].Arguments())
	assert.Equal(t, "call_2", calls[1].ID)

	// the message must not alias the response
	choice.ToolCalls[0].FunctionCall.Name = "changed"
	assert.Equal(t, "read_documents_contents", msg.ToolCalls()[0].Name())

	empty := llms.AssistantMessage(&llms.ContentChoice{})
	assert.Empty(t, empty.Parts)
	assert.Equal(t, llms.RoleAssistant, llms.AssistantMessage(nil).Role)
}

func TestToolResponseMessage(t *testing.T) {
	t.Parallel()

	msg := llms.MessageFromToolResponse(llms.ToolCallResponse{
		ToolCallID: "call_1",
		Name:       "read_documents_contents",
		Content:    "hello",
	})
	assert.Equal(t, llms.RoleTool, msg.Role)
	assert.Equal(t, "call_1", msg.ToolCallID())
	assert.Equal(t, "hello", msg.Text())
	assert.Empty(t, msg.ToolCalls())

	assert.Empty(t, llms.MessageFromTextParts(llms.RoleUser, "x").ToolCallID())
}

func TestIsToolCallResponse(t *testing.T) {
	t.Parallel()

	calls := []llms.ToolCall{{ID: "1", FunctionCall: &llms.FunctionCall{Name: "x"}}}
	tcs := []struct {
		name   string
		choice *llms.ContentChoice
		exp    bool
	}{
		{"nil", nil, false},
		{"stop", &llms.ContentChoice{StopReason: llms.StopReasonStop, Content: "done"}, false},
		{"tool_calls", &llms.ContentChoice{StopReason: llms.StopReasonToolCalls, ToolCalls: calls}, true},
		{"stop_with_calls", &llms.ContentChoice{StopReason: llms.StopReasonStop, ToolCalls: calls}, true},
		{"tool_calls_without_calls", &llms.ContentChoice{StopReason: llms.StopReasonToolCalls}, false},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, llms.IsToolCallResponse(tc.choice))
		})
	}

	assert.Equal(t, "", llms.TextFromChoice(nil))
	assert.Equal(t, "done", llms.TextFromChoice(&llms.ContentChoice{Content: "done"}))
}

func TestGetContent(t *testing.T) {
	t.Parallel()

	msg := llms.MessageFromTextParts(llms.RoleUser, "a", "b")
	assert.Equal(t, "a\nb\n", msg.GetContent())

	msg = llms.MessageFromToolCalls(llms.RoleAssistant, llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "x", Arguments: "{}"}})
	assert.Equal(t, "Tool Call: {\"id\":\"1\",\"type\":\"function\",\"function\":{\"name\":\"x\",\"arguments\":\"{}\"}}\n", msg.GetContent())

	msg = llms.MessageFromToolResponse(llms.ToolCallResponse{ToolCallID: "1", Name: "x", Content: "ok"})
	assert.Equal(t, "Response: {\"tool_call_id\":\"1\",\"name\":\"x\",\"content\":\"ok\"}\n", msg.GetContent())

	var tc llms.ToolCall
	assert.Equal(t, "", tc.Name())
	assert.Equal(t, "", tc.Arguments())
	assert.Equal(t, "ToolCall: 1 (x), input: {}", llms.ToolCall{ID: "1", FunctionCall: &llms.FunctionCall{Name: "x", Arguments: "{}"}}.String())
}
