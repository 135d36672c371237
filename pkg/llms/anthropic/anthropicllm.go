package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/values"
)

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
	ErrUnsupportedContentType = errors.New("anthropic: unsupported content type")
)

const (
	DefaultMaxTokens = 4096
	// MaxTemperature is the upper bound of the temperature accepted by the API
	MaxTemperature = 1.0
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, it will attempt to read the API key
// from the ANTHROPIC_API_KEY environment variable.
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		Model:      os.Getenv(ModelEnvVarName),
		BaseURL:    "https://api.anthropic.com",
		HttpClient: http.DefaultClient,
		MaxRetries: 2,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	return &LLM{
		Client:  newClient(options),
		Options: options,
	}, nil
}

func newClient(options *Options) *anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(options.MaxRetries),
		option.WithRequestTimeout(5 * time.Minute),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &client
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
// The response has one choice with the text and the tool calls of the message.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)
	if opts.Model == "" {
		opts.Model = o.Options.Model
	}

	params, err := NewParams(messages, opts)
	if err != nil {
		return nil, err
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}
	return ToResponse(result)
}

// NewParams returns the request parameters for the messages
func NewParams(messages []llms.Message, opts *llms.CallOptions) (anthropic.MessageNewParams, error) {
	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, errors.WithMessage(err, "anthropic: failed to process messages")
	}
	if opts.SystemPrompt != "" {
		systemPrompt = strings.TrimSpace(opts.SystemPrompt + "\n" + systemPrompt)
	}

	tools, err := ToTools(opts.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(min(opts.Temperature, MaxTemperature))
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// ToResponse merges the content blocks of the message into one choice
func ToResponse(result *anthropic.Message) (*llms.ContentResponse, error) {
	if result == nil {
		return nil, ErrEmptyResponse
	}

	choice := &llms.ContentChoice{
		StopReason: StopReason(string(result.StopReason)),
		GenerationInfo: map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
		},
	}

	var text strings.Builder
	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			arguments := string(argumentsJSON)
			if arguments == "" || arguments == "null" {
				arguments = "{}"
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   content.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      content.Name,
					Arguments: arguments,
				},
			})
		default:
			return nil, errors.WithMessagef(ErrUnsupportedContentType, "anthropic: %T", content)
		}
	}
	choice.Content = text.String()

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{choice},
	}, nil
}

// StopReason maps the stop reason of the API to the OpenAI compatible one
func StopReason(reason string) string {
	switch reason {
	case "tool_use":
		return llms.StopReasonToolCalls
	case "max_tokens":
		return llms.StopReasonLength
	case "end_turn", "stop_sequence":
		return llms.StopReasonStop
	}
	return reason
}

// inputSchema is the part of a JSON schema the API accepts
type inputSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
//
// The parameters of each function are a JSON schema of an object,
// its properties and required fields are passed to the API.
func ToTools(tools []llms.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}

		var schema inputSchema
		if tool.Function.Parameters != nil {
			js, err := json.Marshal(tool.Function.Parameters)
			if err != nil {
				return nil, errors.Wrapf(err, "anthropic: invalid parameters of %s", tool.Function.Name)
			}
			if err = json.Unmarshal(js, &schema); err != nil {
				return nil, errors.Wrapf(err, "anthropic: invalid parameters of %s", tool.Function.Name)
			}
		}

		param := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: schema.Properties,
		}
		if len(schema.Required) > 0 {
			param.Required = schema.Required
		}

		sdkTools = append(sdkTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Function.Name,
				Description: anthropic.String(tool.Function.Description),
				InputSchema: param,
			},
		})
	}
	return sdkTools, nil
}

// ProcessMessages converts the history to Anthropic SDK message parameters.
//
// System messages are returned as the system prompt. The tool messages
// that follow an assistant message are sent as one user message holding
// a tool result per call.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemPrompt []string
	var toolResults []anthropic.ContentBlockParamUnion

	flushToolResults := func() {
		if len(toolResults) > 0 {
			chatMessages = append(chatMessages, anthropic.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}

	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		if msg.Role != llms.RoleTool {
			flushToolResults()
		}

		switch msg.Role {
		case llms.RoleSystem:
			content, err := HandleSystemMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "anthropic: failed to handle system message")
			}
			systemPrompt = append(systemPrompt, content)
		case llms.RoleUser:
			chatMessage, err := HandleUserMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "anthropic: failed to handle user message")
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleAssistant:
			chatMessage, err := HandleAssistantMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "anthropic: failed to handle assistant message")
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleTool:
			blocks, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "anthropic: failed to handle tool message")
			}
			toolResults = append(toolResults, blocks...)
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}
	flushToolResults()

	return chatMessages, strings.Join(systemPrompt, "\n"), nil
}

// HandleSystemMessage extracts text content from system messages.
func HandleSystemMessage(msg llms.Message) (string, error) {
	if textContent, ok := msg.Parts[0].(llms.TextContent); ok {
		return textContent.Text, nil
	}
	return "", errors.WithMessagef(ErrInvalidContentType, "anthropic: for system message")
}

// HandleUserMessage converts user messages to Anthropic user message format.
func HandleUserMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported user message part type: %T", part)
		}
	}

	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in user message")
	}
	return anthropic.NewUserMessage(contents...), nil
}

// HandleAssistantMessage converts assistant messages to Anthropic assistant message format.
//
// Tool call arguments must be valid JSON, an empty argument string is sent as an empty object.
func HandleAssistantMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.ToolCall:
			if p.FunctionCall == nil {
				return anthropic.MessageParam{}, errors.New("anthropic: tool call without function")
			}
			arguments := p.FunctionCall.Arguments
			if strings.TrimSpace(arguments) == "" {
				arguments = "{}"
			}
			var inputJSON json.RawMessage
			if err := json.Unmarshal([]byte(arguments), &inputJSON); err != nil {
				return anthropic.MessageParam{}, errors.Wrap(err, "anthropic: failed to unmarshal tool call arguments")
			}

			contents = append(contents, anthropic.NewToolUseBlock(
				p.ID,
				inputJSON,
				p.FunctionCall.Name,
			))
		case llms.TextContent:
			if p.Text == "" {
				continue
			}
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported assistant message part type: %T", part)
		}
	}

	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in assistant message")
	}
	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool response messages to tool result blocks.
func HandleToolMessage(msg llms.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		toolCallResponse, ok := part.(llms.ToolCallResponse)
		if !ok {
			return nil, errors.WithMessagef(ErrInvalidContentType, "anthropic: for tool message part type: %T", part)
		}
		contents = append(contents, anthropic.NewToolResultBlock(
			toolCallResponse.ToolCallID,
			toolCallResponse.Content,
			false,
		))
	}

	if len(contents) == 0 {
		return nil, errors.New("anthropic: no valid content in tool message")
	}
	return contents, nil
}
