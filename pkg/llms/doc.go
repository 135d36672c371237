// Package llms provides the model abstraction used by the chat engine.
//
// The `llms.go` file contains the Model interface and provider capabilities.
//
// The `generatecontent.go` file contains the conversation message types:
// an assistant message carries ToolCall parts, and every call is answered by
// a tool message holding a single ToolCallResponse with the same ID.
//
// The `options.go` file provides the per-call options, including the tool
// schema exported to the model.
package llms
