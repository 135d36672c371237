// Package preprocessor expands slash commands and @mentions of user turns
// with the prompts and documents of the documentation provider.
package preprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/prompts"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "preprocessor")

const (
	// CommandMarker starts a prompt command, e.g. /rephrase report.pdf
	CommandMarker = "/"
	// MentionMarker starts a document mention, e.g. @report.pdf
	MentionMarker = "@"

	// DocumentsURI lists the document IDs as a JSON array
	DocumentsURI = "docs://documents"
	// DocumentURIPrefix is followed by the document ID
	DocumentURIPrefix = "docs://documents/"
	// DocIDArgument is the argument name of prompt commands
	DocIDArgument = "doc_id"
)

// DocumentProvider is the documentation server, *mcp.Client implements it
type DocumentProvider interface {
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) ([]mcp.PromptMessage, error)
	ReadResource(ctx context.Context, uri string) (string, error)
}

var (
	_ DocumentProvider  = (*mcp.Client)(nil)
	_ chat.Preprocessor = (*Preprocessor)(nil)
)

const queryPrompt = `The user has a question:
<query>
{{.query}}
</query>

The following context may be useful in answering their question:
<context>
{{.context}}
</context>

Note the user's query might contain references to documents like "@report.docx". The "@" is only
included as a way of mentioning the doc. The actual name of the document would be "report.docx".
If the document content is included in this prompt, you don't need to use an additional tool to read the document.
Answer the user's question directly and concisely. Start with the exact information they need.
Don't refer to or mention the provided context in any way - just use it to inform your answer.
`

var queryTemplate = prompts.NewChatPromptTemplate(
	prompts.NewUserMessagePromptTemplate(queryPrompt, []string{"query", "context"}),
)

// Preprocessor turns raw user turns into messages
type Preprocessor struct {
	docs DocumentProvider
}

// New returns a preprocessor backed by the documentation provider
func New(docs DocumentProvider) *Preprocessor {
	return &Preprocessor{docs: docs}
}

// Process returns the messages for the user turn.
// A command with an argument expands to the prompt messages, anything else
// becomes one user message with the mentioned documents inlined.
func (p *Preprocessor) Process(ctx context.Context, query string) ([]llms.Message, error) {
	if name, docID, ok := ParseCommand(query); ok {
		return p.command(ctx, name, docID)
	}

	docs, err := p.mentionedDocuments(ctx, query)
	if err != nil {
		return nil, err
	}

	msgs, err := queryTemplate.FormatPrompt(map[string]any{
		"query":   query,
		"context": docs,
	})
	if err != nil {
		return nil, err
	}
	return msgs.Messages(), nil
}

// ParseCommand returns the prompt name and document ID of a command,
// ok is false when the query is not a command with an argument
func ParseCommand(query string) (name, docID string, ok bool) {
	if !strings.HasPrefix(query, CommandMarker) {
		return "", "", false
	}
	words := strings.Fields(query)
	if len(words) < 2 {
		return "", "", false
	}
	return strings.ReplaceAll(words[0], CommandMarker, ""), words[1], true
}

// Mentions returns the mentioned names, without the marker
func Mentions(query string) []string {
	var res []string
	for _, w := range strings.Fields(query) {
		if strings.HasPrefix(w, MentionMarker) {
			res = append(res, strings.TrimPrefix(w, MentionMarker))
		}
	}
	return res
}

func (p *Preprocessor) command(ctx context.Context, name, docID string) ([]llms.Message, error) {
	pms, err := p.docs.GetPrompt(ctx, name, map[string]string{DocIDArgument: docID})
	if err != nil {
		return nil, err
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "command",
		"prompt", name,
		"doc_id", docID,
		"messages", len(pms),
	)

	msgs := make([]llms.Message, 0, len(pms))
	for _, pm := range pms {
		msgs = append(msgs, ConvertPromptMessage(pm))
	}
	return msgs, nil
}

// ConvertPromptMessage returns the prompt message with flattened content,
// roles other than user become assistant
func ConvertPromptMessage(pm mcp.PromptMessage) llms.Message {
	role := llms.RoleAssistant
	if pm.Role == string(llms.RoleUser) {
		role = llms.RoleUser
	}
	var text string
	if pm.Content != nil {
		text = pm.Content.Flatten()
	}
	return llms.MessageFromTextParts(role, text)
}

// mentionedDocuments returns the document blocks of the mentioned documents,
// in the order of the document listing
func (p *Preprocessor) mentionedDocuments(ctx context.Context, query string) (string, error) {
	mentions := Mentions(query)
	if len(mentions) == 0 {
		return "", nil
	}

	ids, err := p.DocumentIDs(ctx)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, id := range ids {
		if !slices.Contains(mentions, id) {
			continue
		}
		content, err := p.docs.ReadResource(ctx, DocumentURIPrefix+id)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "\n<document id=\"%s\">\n%s\n</document>\n", id, content)
	}
	return buf.String(), nil
}

// DocumentIDs lists the IDs of the documents
func (p *Preprocessor) DocumentIDs(ctx context.Context) ([]string, error) {
	raw, err := p.docs.ReadResource(ctx, DocumentsURI)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err = json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, mcp.Classify(errors.Wrapf(err, "unexpected content of %s", DocumentsURI), mcp.ErrProtocol)
	}
	return ids, nil
}

// Commands lists the prompts available as commands
func (p *Preprocessor) Commands(ctx context.Context) ([]*mcp.Prompt, error) {
	return p.docs.ListPrompts(ctx)
}
