package llms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned when a message role is of an unexpected type.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the type of chat message.
type Role string

const (
	// RoleSystem is a message sent by the system.
	RoleSystem Role = "system"
	// RoleUser is a message sent by a human.
	RoleUser Role = "user"
	// RoleAssistant is a message sent by the model.
	RoleAssistant Role = "assistant"
	// RoleTool is a message carrying the result of a tool call.
	RoleTool Role = "tool"
)

// Message is the message sent to a LLM. It has a role and a
// sequence of parts. An assistant message that requests tools carries
// ToolCall parts, and each of those is answered by a tool message with
// exactly one ToolCallResponse part.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// TextPart creates TextContent from a given string.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// ContentPart is an interface all parts of content have to implement.
type ContentPart interface {
	isPart()
}

// TextContent is content with some text.
type TextContent struct {
	Text string `json:"text"`
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// FunctionCall is the name and arguments of a function call.
type FunctionCall struct {
	// The name of the function to call.
	Name string `json:"name"`
	// The arguments to pass to the function, as a JSON string.
	Arguments string `json:"arguments"`
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call.
	ID string `json:"id"`
	// Type is the type of the tool call. Typically, this would be "function".
	Type string `json:"type"`
	// FunctionCall is the function call to be executed.
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

// Name returns the function name, or empty string.
func (tc ToolCall) Name() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// Arguments returns the raw arguments, or empty string.
func (tc ToolCall) Arguments() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Arguments
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name(), tc.Arguments())
}

func (ToolCall) isPart() {}

// ToolCallResponse is the response returned by a tool call.
type ToolCallResponse struct {
	// ToolCallID is the ID of the tool call this response is for.
	ToolCallID string `json:"tool_call_id"`
	// Name is the name of the tool that was called.
	Name string `json:"name"`
	// Content is the textual content of the response.
	Content string `json:"content"`
}

func (tc ToolCallResponse) String() string {
	return fmt.Sprintf("ToolCallResponse: %s (%s), response size: %d", tc.ToolCallID, tc.Name, len(tc.Content))
}

func (ToolCallResponse) isPart() {}

// ContentResponse is the response returned by a GenerateContent call.
// It can potentially return multiple content choices.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one of the response choices returned by GenerateContent
// calls.
type ContentChoice struct {
	// Content is the textual content of a response
	Content string `json:"content"`

	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason"`

	// GenerationInfo is arbitrary information the model adds to the response.
	GenerationInfo map[string]any `json:"generation_info"`

	// ToolCalls is a list of tool calls the model asks to invoke.
	ToolCalls []ToolCall `json:"tool_calls"`
}

// MessageFromParts is a helper function to create a Message with a role and a
// list of parts.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{
		Role:  role,
		Parts: parts,
	}
}

// MessageFromTextParts is a helper function to create a Message with a role and a
// list of text parts.
func MessageFromTextParts(role Role, parts ...string) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, TextPart(part))
	}
	return result
}

// MessageFromToolCalls is a helper function to create a Message with a role and a
// list of tool calls.
func MessageFromToolCalls(role Role, toolCalls ...ToolCall) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(toolCalls)),
	}
	for _, toolCall := range toolCalls {
		result.Parts = append(result.Parts, cloneToolCall(toolCall))
	}
	return result
}

// MessageFromToolResponse is a helper function to create a tool Message
// answering a single tool call.
func MessageFromToolResponse(toolResponse ToolCallResponse) Message {
	return MessageFromParts(RoleTool, ToolCallResponse{
		ToolCallID: toolResponse.ToolCallID,
		Name:       toolResponse.Name,
		Content:    toolResponse.Content,
	})
}

// AssistantMessage returns the assistant message recorded for the choice:
// the text, when present, followed by the requested tool calls verbatim.
func AssistantMessage(choice *ContentChoice) Message {
	msg := Message{Role: RoleAssistant}
	if choice == nil {
		return msg
	}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, TextPart(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, cloneToolCall(tc))
	}
	return msg
}

func cloneToolCall(tc ToolCall) ToolCall {
	c := ToolCall{
		ID:   tc.ID,
		Type: tc.Type,
	}
	if tc.FunctionCall != nil {
		c.FunctionCall = &FunctionCall{
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		}
	}
	return c
}

// ToolCalls returns the tool call parts of the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolCallID returns the tool call ID answered by a tool message.
func (m Message) ToolCallID() string {
	for _, p := range m.Parts {
		if resp, ok := p.(ToolCallResponse); ok {
			return resp.ToolCallID
		}
	}
	return ""
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		switch typ := p.(type) {
		case TextContent:
			texts = append(texts, typ.Text)
		case ToolCallResponse:
			texts = append(texts, typ.Content)
		}
	}
	return strings.Join(texts, "\n")
}

// GetContent returns a printable form of all parts of the message.
func (m Message) GetContent() string {
	var buf strings.Builder
	lastNewLine := true
	for _, p := range m.Parts {
		if !lastNewLine {
			buf.WriteString("\n")
		}
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
			lastNewLine = strings.HasSuffix(typ.Text, "\n")
		case ToolCall:
			buf.WriteString("Tool Call: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		case ToolCallResponse:
			buf.WriteString("Response: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		}
	}
	if !lastNewLine {
		buf.WriteString("\n")
	}
	return buf.String()
}

// IsToolCallResponse returns true when the choice asks for tool execution.
// Some providers report "stop" together with tool calls, so the presence of
// calls decides; a "tool_calls" stop reason without calls is a final answer.
func IsToolCallResponse(choice *ContentChoice) bool {
	return choice != nil && len(choice.ToolCalls) > 0
}

// TextFromChoice returns the text of the choice, or empty string.
func TextFromChoice(choice *ContentChoice) string {
	if choice == nil {
		return ""
	}
	return choice.Content
}

// Stop reasons reported by OpenAI compatible providers.
const (
	StopReasonStop         = "stop"
	StopReasonLength       = "length"
	StopReasonToolCalls    = "tool_calls"
	StopReasonFunctionCall = "function_call"
)
