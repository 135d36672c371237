package prompts

import (
	"strings"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
)

// ChatPromptValue is a prompt value that is a list of chat messages.
type ChatPromptValue []llms.Message

// String returns the chat message slice as a buffer string.
func (v ChatPromptValue) String() string {
	var buf strings.Builder
	llmutils.PrintMessages(&buf, v)
	return buf.String()
}

// Messages returns the ChatMessage slice.
func (v ChatPromptValue) Messages() []llms.Message {
	return v
}

// MessagePromptTemplate renders one message of a role.
type MessagePromptTemplate struct {
	Role   llms.Role
	Prompt *PromptTemplate
}

// NewSystemMessagePromptTemplate returns a system message template.
func NewSystemMessagePromptTemplate(tmpl string, inputVariables []string) MessagePromptTemplate {
	return MessagePromptTemplate{Role: llms.RoleSystem, Prompt: NewPromptTemplate(tmpl, inputVariables)}
}

// NewUserMessagePromptTemplate returns a user message template.
func NewUserMessagePromptTemplate(tmpl string, inputVariables []string) MessagePromptTemplate {
	return MessagePromptTemplate{Role: llms.RoleUser, Prompt: NewPromptTemplate(tmpl, inputVariables)}
}

// NewAssistantMessagePromptTemplate returns an assistant message template.
func NewAssistantMessagePromptTemplate(tmpl string, inputVariables []string) MessagePromptTemplate {
	return MessagePromptTemplate{Role: llms.RoleAssistant, Prompt: NewPromptTemplate(tmpl, inputVariables)}
}

// ChatPromptTemplate renders a sequence of messages.
type ChatPromptTemplate []MessagePromptTemplate

// NewChatPromptTemplate returns the chat template of the messages.
func NewChatPromptTemplate(messages ...MessagePromptTemplate) ChatPromptTemplate {
	return ChatPromptTemplate(messages)
}

// FormatPrompt renders every message with the values.
func (t ChatPromptTemplate) FormatPrompt(values map[string]any) (ChatPromptValue, error) {
	msgs := make(ChatPromptValue, 0, len(t))
	for _, m := range t {
		text, err := m.Prompt.Format(values)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, llms.MessageFromTextParts(m.Role, text))
	}
	return msgs, nil
}
