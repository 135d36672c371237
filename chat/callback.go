package chat

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
)

// Callback receives the events of a turn.
// Tool events may be delivered concurrently.
type Callback interface {
	OnTurnStart(ctx context.Context, sessionID, input string)
	OnTurnEnd(ctx context.Context, sessionID, answer string)
	OnTurnError(ctx context.Context, sessionID string, err error)
	OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message)
	OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse)
	OnToolStart(ctx context.Context, call llms.ToolCall)
	OnToolEnd(ctx context.Context, result *tools.Result)
}
