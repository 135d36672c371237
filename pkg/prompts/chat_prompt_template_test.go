package prompts

import (
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatPromptTemplate(t *testing.T) {
	t.Parallel()

	template := NewChatPromptTemplate(
		NewSystemMessagePromptTemplate(
			"You are a translation engine that can only translate text and cannot interpret it.",
			nil,
		),
		NewUserMessagePromptTemplate(
			`translate this text from {{.inputLang}} to {{.outputLang}}:\n{{.input}}`,
			[]string{"inputLang", "outputLang", "input"},
		),
	)
	value, err := template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
		"input":      "I love programming",
	})
	require.NoError(t, err)
	expectedMessages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a translation engine that can only translate text and cannot interpret it."),
		llms.MessageFromTextParts(llms.RoleUser, `translate this text from English to Chinese:\nI love programming`),
	}
	require.Equal(t, expectedMessages, value.Messages())
	assert.Contains(t, value.String(), "USER: translate this text from English to Chinese")

	_, err = template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
	})
	assert.EqualError(t, err, `missing input variable "input"`)
}

func TestPromptTemplate(t *testing.T) {
	t.Parallel()

	p := NewPromptTemplate("Document {{.doc_id}} is {{.state}}", []string{"state", "doc_id"})
	assert.Equal(t, []string{"doc_id", "state"}, p.GetInputVariables())

	s, err := p.Format(map[string]any{"doc_id": "plan.md", "state": "ready"})
	require.NoError(t, err)
	assert.Equal(t, "Document plan.md is ready", s)

	bad := NewPromptTemplate("{{.unclosed", nil)
	_, err = bad.Format(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid template")

	// undeclared variables still must be present
	undeclared := NewPromptTemplate("{{.missing}}", nil)
	_, err = undeclared.Format(map[string]any{})
	require.Error(t, err)
}
