package mcp

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ProtocolVersion is the protocol revision requested on initialize
const ProtocolVersion = "2024-11-05"

// Implementation describes the name and version of an MCP implementation
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server reply to initialize
type InitializeResult struct {
	ProtocolVersion string                     `json:"protocolVersion"`
	Capabilities    map[string]json.RawMessage `json:"capabilities"`
	ServerInfo      Implementation             `json:"serverInfo"`
	Instructions    string                     `json:"instructions,omitempty"`
}

// HasCapability returns true if the server advertised the capability,
// e.g. tools, prompts, resources
func (r *InitializeResult) HasCapability(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Capabilities[name]
	return ok
}

// Tool describes a tool offered by a server
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptArgument describes an argument of a prompt template
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a prompt template offered by a server
type Prompt struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Arguments   []*PromptArgument `json:"arguments,omitempty"`
}

// Resource describes a resource offered by a server
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the content of a resource
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// PromptMessage is one message of an expanded prompt template
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// UnmarshalJSON decodes the content variant
func (m *PromptMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	content, err := DecodeContent(raw.Content)
	if err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = content
	return nil
}

// ToolResult is the outcome of a tool call
type ToolResult struct {
	// IsError is set when the server reported that the tool failed
	IsError bool
	// Text is the text content joined with new lines
	Text string
	// Content is the decoded content
	Content []Content
}

type callToolResult struct {
	Content           []json.RawMessage `json:"content"`
	IsError           bool              `json:"isError"`
	StructuredContent json.RawMessage   `json:"structuredContent,omitempty"`
}

func (r *callToolResult) toToolResult() (*ToolResult, error) {
	res := &ToolResult{IsError: r.IsError}
	var texts []string
	for _, raw := range r.Content {
		c, err := DecodeContent(raw)
		if err != nil {
			return nil, err
		}
		res.Content = append(res.Content, c)
		if tc, ok := c.(TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	res.Text = strings.Join(texts, "\n")
	if res.Text == "" && len(r.StructuredContent) > 0 && string(r.StructuredContent) != "null" {
		res.Text = string(r.StructuredContent)
	}
	return res, nil
}
