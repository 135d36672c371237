package mcp

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// Content is the content of a prompt message or tool result,
// one of TextContent, ImageContent, ResourceContent, PartsContent or RawContent
type Content interface {
	// Flatten renders the content as plain text
	Flatten() string

	isContent()
}

// TextContent is plain text
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent is a base64 encoded image
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ResourceContent is an embedded resource
type ResourceContent struct {
	Resource ResourceContents `json:"resource"`
}

// PartsContent is a list of content parts
type PartsContent []Content

// RawContent is content of an unknown shape
type RawContent json.RawMessage

func (TextContent) isContent()     {}
func (ImageContent) isContent()    {}
func (ResourceContent) isContent() {}
func (PartsContent) isContent()    {}
func (RawContent) isContent()      {}

// Flatten returns the text
func (c TextContent) Flatten() string {
	return c.Text
}

// Flatten returns a reference marker
func (c ImageContent) Flatten() string {
	return "[Image: " + c.MimeType + "]"
}

// Flatten returns a reference marker
func (c ResourceContent) Flatten() string {
	return "[Resource: " + c.Resource.URI + "]"
}

// Flatten joins the text and resource parts with new lines,
// other parts are skipped
func (c PartsContent) Flatten() string {
	var texts []string
	for _, part := range c {
		switch p := part.(type) {
		case TextContent, ResourceContent:
			texts = append(texts, p.Flatten())
		}
	}
	return strings.Join(texts, "\n")
}

// Flatten returns the string value, or the JSON text
func (c RawContent) Flatten() string {
	var s string
	if err := json.Unmarshal(c, &s); err == nil {
		return s
	}
	return string(c)
}

// DecodeContent decodes a content object, a list of content objects,
// or any other JSON value as RawContent
func DecodeContent(data json.RawMessage) (Content, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return RawContent(`""`), nil
	}

	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, errors.Wrap(err, "invalid content list")
		}
		parts := make(PartsContent, 0, len(raws))
		for _, raw := range raws {
			part, err := DecodeContent(raw)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return parts, nil
	case '{':
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, errors.Wrap(err, "invalid content")
		}
		switch probe.Type {
		case "text":
			var c TextContent
			if err := json.Unmarshal(trimmed, &c); err != nil {
				return nil, errors.Wrap(err, "invalid text content")
			}
			return c, nil
		case "image":
			var c ImageContent
			if err := json.Unmarshal(trimmed, &c); err != nil {
				return nil, errors.Wrap(err, "invalid image content")
			}
			return c, nil
		case "resource":
			var c ResourceContent
			if err := json.Unmarshal(trimmed, &c); err != nil {
				return nil, errors.Wrap(err, "invalid resource content")
			}
			return c, nil
		}
	}
	return RawContent(append([]byte(nil), trimmed...)), nil
}
