package openai

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
)

type ChatMessage = openaiclient.ChatMessage

var (
	// ErrEmptyResponse is returned when the provider returned no choices.
	ErrEmptyResponse = errors.New("no response")
	// ErrMissingToken is returned when the API token is not configured.
	ErrMissingToken = errors.New("missing the OpenAI API key, set it in the OPENAI_API_KEY environment variable")
	// ErrMissingAzureModel is returned when Azure is used without a deployment name.
	ErrMissingAzureModel = errors.New("model needs to be provided when using Azure API")
)

type LLM struct {
	client *openaiclient.Client
}

const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleTool      = "tool"
)

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	_, c, err := newClient(opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{
		client: c,
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(o.client.Provider)
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.client.Model
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) { //nolint: lll, cyclop, funlen
	opts := llms.NewCallOptions(options...)

	chatMsgs := make([]*ChatMessage, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		chatMsgs = append(chatMsgs, &ChatMessage{Role: RoleSystem, Content: &opts.SystemPrompt})
	}
	for _, mc := range messages {
		msg, err := chatMessageFromMessage(mc)
		if err != nil {
			return nil, err
		}
		chatMsgs = append(chatMsgs, msg)
	}

	req := &openaiclient.ChatRequest{
		Model:               opts.Model,
		StopWords:           opts.StopWords,
		Messages:            chatMsgs,
		Temperature:         opts.Temperature,
		MaxCompletionTokens: opts.MaxTokens,
		Seed:                opts.Seed,
		Metadata:            opts.Metadata,
	}

	for _, tool := range opts.Tools {
		t, err := toolFromTool(tool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert llms tool to openai tool")
		}
		req.Tools = append(req.Tools, t)
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = opts.ToolChoice
	}

	result, err := o.client.CreateChat(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"InputTokens":     result.Usage.PromptTokens,
				"OutputTokens":    result.Usage.CompletionTokens,
				"TotalTokens":     result.Usage.TotalTokens,
				"ReasoningTokens": result.Usage.CompletionTokensDetails.ReasoningTokens,
			},
		}

		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: string(tool.Type),
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func chatMessageFromMessage(mc llms.Message) (*ChatMessage, error) {
	msg := &ChatMessage{}
	switch mc.Role {
	case llms.RoleSystem:
		msg.Role = RoleSystem
	case llms.RoleAssistant:
		msg.Role = RoleAssistant
	case llms.RoleUser:
		msg.Role = RoleUser
	case llms.RoleTool:
		msg.Role = RoleTool
		// a tool message answers exactly one call
		if len(mc.Parts) != 1 {
			return nil, errors.Errorf("expected exactly one part for role %v, got %v", mc.Role, len(mc.Parts))
		}
		switch p := mc.Parts[0].(type) {
		case llms.ToolCallResponse:
			msg.ToolCallID = p.ToolCallID
			content := p.Content
			msg.Content = &content
		default:
			return nil, errors.Errorf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
		}
		return msg, nil
	default:
		return nil, errors.Wrapf(llms.ErrUnexpectedRole, "role %v not supported", mc.Role)
	}

	texts, toolCalls := ExtractToolParts(mc)
	if len(texts) > 0 || len(toolCalls) == 0 {
		content := strings.Join(texts, "\n")
		msg.Content = &content
	}
	msg.ToolCalls = toolCallsFromToolCalls(toolCalls)
	return msg, nil
}

// ExtractToolParts splits a message into its text and tool call parts.
func ExtractToolParts(msg llms.Message) ([]string, []llms.ToolCall) {
	var content []string
	var toolCalls []llms.ToolCall
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			content = append(content, p.Text)
		case llms.ToolCall:
			toolCalls = append(toolCalls, p)
		}
	}
	return content, toolCalls
}

// toolFromTool converts an llms.Tool to a Tool.
func toolFromTool(t llms.Tool) (openaiclient.Tool, error) {
	tool := openaiclient.Tool{
		Type: openaiclient.ToolType(t.Type),
	}
	switch t.Type {
	case string(openaiclient.ToolTypeFunction):
		if t.Function == nil {
			return openaiclient.Tool{}, errors.New("function definition is required")
		}
		tool.Function = openaiclient.FunctionDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
			Strict:      t.Function.Strict,
		}
	default:
		return openaiclient.Tool{}, errors.Errorf("tool type %v not supported", t.Type)
	}
	return tool, nil
}

// toolCallsFromToolCalls converts a slice of llms.ToolCall to a slice of ToolCall.
func toolCallsFromToolCalls(tcs []llms.ToolCall) []openaiclient.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	toolCalls := make([]openaiclient.ToolCall, len(tcs))
	for i, tc := range tcs {
		toolCalls[i] = openaiclient.ToolCall{
			ID:   tc.ID,
			Type: openaiclient.ToolType(values.StringsCoalesce(tc.Type, string(openaiclient.ToolTypeFunction))),
			Function: openaiclient.ToolFunction{
				Name:      tc.Name(),
				Arguments: tc.Arguments(),
			},
		}
	}
	return toolCalls
}
