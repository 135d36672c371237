// Package docserver exposes a document store as an MCP server.
package docserver

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/docstore"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "docserver")

const (
	// ServerName is reported to clients on initialize
	ServerName = "MCP server for document summarization and word replacement"
	// ServerVersion is reported to clients on initialize
	ServerVersion = "1.0.0"
	// Instructions are reported to clients on initialize
	Instructions = "Read a text document and replace words in it."

	// ReadToolName reads a document
	ReadToolName = "read_documents_contents"
	// EditToolName replaces a string in a document
	EditToolName = "edit_document"

	// DocumentsURI lists the document IDs as a JSON array
	DocumentsURI = "docs://documents"
	// DocumentURITemplate fetches the content of one document
	DocumentURITemplate = "docs://documents/{doc_id}"

	documentURIPrefix = "docs://documents/"
)

// New returns an MCP server for the store
func New(store docstore.Store) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcpsdk.ServerOptions{
		Instructions: Instructions,
	})
	Register(server, store)
	return server
}

// Register adds the document tools, resources and prompts to the server
func Register(server *mcpsdk.Server, store docstore.Store) {
	h := &handler{store: store}

	server.AddTool(&mcpsdk.Tool{
		Name:        ReadToolName,
		Description: "Read the contents of a document and return it as a string.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_id": map[string]any{
					"type":        "string",
					"description": "ID of the document to read",
				},
			},
			"required": []any{"doc_id"},
		},
	}, h.readDocument)

	server.AddTool(&mcpsdk.Tool{
		Name:        EditToolName,
		Description: "Edit a document by replacing a string in the documents content with a new string",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_id": map[string]any{
					"type":        "string",
					"description": "ID of the document that will be edited",
				},
				"old_str": map[string]any{
					"type":        "string",
					"description": "The word to replace. Must match exactly, including whitespace",
				},
				"new_str": map[string]any{
					"type":        "string",
					"description": "The new text to insert in place of the old text in the document",
				},
			},
			"required": []any{"doc_id", "old_str", "new_str"},
		},
	}, h.editDocument)

	server.AddResource(&mcpsdk.Resource{
		URI:      DocumentsURI,
		Name:     "documents",
		MIMEType: "application/json",
	}, h.listDocuments)

	server.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		URITemplate: DocumentURITemplate,
		Name:        "document",
		MIMEType:    "text/plain",
	}, h.fetchDocument)

	for _, p := range Prompts() {
		server.AddPrompt(p.mcpPrompt(), h.prompt(p))
	}
}

// Serve runs the server for the store on the transport until the client
// disconnects or ctx is cancelled
func Serve(ctx context.Context, store docstore.Store, transport mcpsdk.Transport) error {
	logger.ContextKV(ctx, xlog.DEBUG, "status", "serving", "name", ServerName)
	err := New(store).Run(ctx, transport)
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "document server failed")
	}
	return nil
}

type handler struct {
	store docstore.Store
}

type readArgs struct {
	DocID string `json:"doc_id" validate:"required"`
}

type editArgs struct {
	DocID  string  `json:"doc_id" validate:"required"`
	OldStr *string `json:"old_str" validate:"required"`
	NewStr *string `json:"new_str" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// decodeArgs unmarshals and validates the tool arguments
func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrap(err, "invalid arguments")
		}
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.Newf("missing required argument: %s", verrs[0].Field())
		}
		return errors.Wrap(err, "invalid arguments")
	}
	return nil
}

// toolError is reported to the client as a failed tool result
func toolError(name string, err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "Error executing tool " + name + ": " + err.Error()},
		},
	}
}

func (h *handler) readDocument(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args readArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return toolError(ReadToolName, err), nil
	}

	content, err := h.store.Read(ctx, args.DocID)
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "tool", ReadToolName, "doc_id", args.DocID, "err", err.Error())
		return toolError(ReadToolName, err), nil
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: content}},
	}, nil
}

func (h *handler) editDocument(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args editArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return toolError(EditToolName, err), nil
	}

	_, err := h.store.Edit(ctx, args.DocID, *args.OldStr, *args.NewStr)
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "tool", EditToolName, "doc_id", args.DocID, "err", err.Error())
		return toolError(EditToolName, err), nil
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "edited",
		"doc_id", args.DocID,
		"old_str", *args.OldStr,
		"new_str", *args.NewStr,
	)

	// the edit reports no content
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{},
	}, nil
}

func (h *handler) listDocuments(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	ids, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	js, err := json.Marshal(ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{
			{URI: req.Params.URI, MIMEType: "application/json", Text: string(js)},
		},
	}, nil
}

func (h *handler) fetchDocument(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, documentURIPrefix)
	if id == "" || id == uri {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}

	content, err := h.store.Read(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, mcpsdk.ResourceNotFoundError(uri)
		}
		return nil, err
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{
			{URI: uri, MIMEType: "text/plain", Text: content},
		},
	}, nil
}
