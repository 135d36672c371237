package docserver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/prompts"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// DocIDArgument is the argument of the document prompts
const DocIDArgument = "doc_id"

// Prompt is a document prompt offered by the server
type Prompt struct {
	Name        string
	Description string
	// ArgumentDescription describes the doc_id argument
	ArgumentDescription string
	Template            *prompts.PromptTemplate
}

const rephrasePrompt = `Your goal is to rephrase a document to be written in different way.

The ID of the document you need to rephrase is:
<document_id>
{{.doc_id}}
</document_id>

Feel free to add concise extra texts, but don't change the meaning of the report.
Use the 'edit_document' tool to edit the document. After the document has been edited, respond with the final version of the doc. Don't explain your changes.
`

const summarizePrompt = `Your goal is to summarize a document.

The ID of the document you need to summarize is:
<document_id>
{{.doc_id}}
</document_id>

Use the 'read_documents_contents' tool to read the document.
Respond with a concise summary of the main points in a few sentences. Don't add information that is not in the document.
`

// Prompts returns the prompts offered by the server
func Prompts() []*Prompt {
	return []*Prompt{
		{
			Name:                "rephrase",
			Description:         "Rewrites the contents of the document in different way.",
			ArgumentDescription: "ID of the document to format",
			Template:            prompts.NewPromptTemplate(rephrasePrompt, []string{DocIDArgument}),
		},
		{
			Name:                "summarize",
			Description:         "Summarizes the contents of the document.",
			ArgumentDescription: "ID of the document to summarize",
			Template:            prompts.NewPromptTemplate(summarizePrompt, []string{DocIDArgument}),
		},
	}
}

func (p *Prompt) mcpPrompt() *mcpsdk.Prompt {
	return &mcpsdk.Prompt{
		Name:        p.Name,
		Description: p.Description,
		Arguments: []*mcpsdk.PromptArgument{
			{
				Name:        DocIDArgument,
				Description: p.ArgumentDescription,
				Required:    true,
			},
		},
	}
}

// Format returns the prompt text for the document
func (p *Prompt) Format(docID string) (string, error) {
	if docID == "" {
		return "", errors.Newf("missing required argument: %s", DocIDArgument)
	}
	return p.Template.Format(map[string]any{DocIDArgument: docID})
}

func (h *handler) prompt(p *Prompt) mcpsdk.PromptHandler {
	return func(_ context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
		text, err := p.Format(req.Params.Arguments[DocIDArgument])
		if err != nil {
			return nil, err
		}
		return &mcpsdk.GetPromptResult{
			Description: p.Description,
			Messages: []*mcpsdk.PromptMessage{
				{Role: "user", Content: &mcpsdk.TextContent{Text: text}},
			},
		}, nil
	}
}
