package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{}

func (fakeModel) GetProviderType() llms.ProviderType { return llms.ProviderOpenAI }
func (fakeModel) GetName() string                    { return "fake-model" }
func (fakeModel) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}

var (
	testCall = llms.ToolCall{
		ID:           "call_1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: "read_documents_contents", Arguments: `{"doc_id":"plan.md"}`},
	}
	testResp = &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content: "done",
			GenerationInfo: map[string]any{
				"InputTokens":  int64(10),
				"OutputTokens": int64(5),
				"TotalTokens":  int64(15),
			},
		}},
	}
	testMessages = []llms.Message{
		llms.MessageFromTextParts(llms.RoleUser, "hello"),
		llms.MessageFromToolCalls(llms.RoleAssistant, testCall),
		llms.MessageFromToolResponse(llms.ToolCallResponse{ToolCallID: "call_1", Name: "read_documents_contents", Content: "The plan"}),
	}
)

func emit(ctx context.Context, cb chat.Callback) {
	cb.OnTurnStart(ctx, "s1", "test input")
	cb.OnLLMCallStart(ctx, fakeModel{}, testMessages)
	cb.OnLLMCallEnd(ctx, fakeModel{}, testResp)
	cb.OnToolStart(ctx, testCall)
	cb.OnToolEnd(ctx, &tools.Result{ToolCallID: "call_1", Name: "read_documents_contents", Text: "test output"})
	cb.OnToolEnd(ctx, &tools.Result{ToolCallID: "call_2", Name: "nonexistent_tool", IsError: true, Text: "Error: Could not find tool 'nonexistent_tool'"})
	cb.OnTurnEnd(ctx, "s1", "done")
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	emit(context.Background(), callbacks.NewPrinter(&buf, callbacks.ModeVerbose))

	res := buf.String()
	assert.Contains(t, res, "Turn Start: s1")
	assert.Contains(t, res, "Input: test input")
	assert.Contains(t, res, "LLM Call: fake-model model, 3 messages")
	assert.Contains(t, res, "LLM Call End: fake-model model, 1 choices")
	assert.Contains(t, res, "Tool Start: read_documents_contents")
	assert.Contains(t, res, `Input: {"doc_id":"plan.md"}`)
	assert.Contains(t, res, "Tool End: read_documents_contents")
	assert.Contains(t, res, "Output: test output")
	assert.Contains(t, res, "Tool Error: nonexistent_tool: Error: Could not find tool 'nonexistent_tool'")
	assert.Contains(t, res, "Turn End: s1")

	buf.Reset()
	cb := callbacks.NewPrinter(&buf, callbacks.ModeDefault)
	emit(context.Background(), cb)
	cb.OnTurnError(context.Background(), "s1", errors.New("test error"))

	res = buf.String()
	assert.NotContains(t, res, "Turn Start")
	assert.NotContains(t, res, "Output: test output")
	assert.Contains(t, res, "Tool Start: read_documents_contents")
	assert.Contains(t, res, "Turn Error: s1: test error")
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fan := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeVerbose))
	fan.Add(callbacks.NewPrinter(&buf2, callbacks.ModeVerbose))
	fan.Add(callbacks.NewNoop())
	fan.Add(callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/mcpchat", "callbacks_test")))

	emit(context.Background(), fan)
	fan.OnTurnError(context.Background(), "s1", errors.New("test error"))

	assert.NotEmpty(t, buf1.String())
	assert.Equal(t, buf1.String(), buf2.String())
}

func TestScratchpad(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	callbacks.TimeNowFn = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	defer func() { callbacks.TimeNowFn = time.Now }()

	sp := callbacks.NewScratchpad(callbacks.ModeVerbose)

	// events outside of a turn are ignored
	emit(context.Background(), sp)
	assert.Nil(t, sp.Last())

	ctx := chat.WithTurnContext(context.Background(), &chat.TurnContext{SessionID: "s1", RunID: "r1"})
	emit(ctx, sp)

	stats := sp.Last()
	require.NotNil(t, stats)
	assert.Equal(t, "s1", stats.SessionID)
	assert.Equal(t, "r1", stats.RunID)
	assert.False(t, stats.Failed)
	assert.Equal(t, uint32(1), stats.LLMCalls)
	assert.Equal(t, uint32(3), stats.TotalMessages)
	assert.Equal(t, uint64(10), stats.LLMInputTokens)
	assert.Equal(t, uint64(5), stats.LLMOutputTokens)
	assert.Equal(t, uint64(15), stats.LLMTotalTokens)
	assert.Equal(t, uint32(1), stats.ToolsCalls)
	assert.Equal(t, uint32(1), stats.ToolsCallsSucceeded)
	assert.Equal(t, uint32(1), stats.ToolsCallsFailed)
	assert.Greater(t, stats.LLMBytesOut, uint64(0))
	assert.Greater(t, stats.Duration, time.Duration(0))

	transcript := string(sp.Transcript())
	assert.True(t, strings.HasPrefix(transcript, "2025-03-01 10:00:02 s1.r1 *** Turn Started ***\n"), transcript)
	assert.Contains(t, transcript, "*** LLM Call *** fake-model model, 3 messages")
	assert.Contains(t, transcript, "[1] assistant:")
	assert.Contains(t, transcript, "nonexistent_tool *** Tool Error *** Error: Could not find tool 'nonexistent_tool'")
	assert.Contains(t, transcript, "Tool calls: 1, Failed: 1")

	ctx = chat.WithTurnContext(context.Background(), &chat.TurnContext{SessionID: "s1", RunID: "r2"})
	sp.OnTurnStart(ctx, "s1", "again")
	sp.OnTurnError(ctx, "s1", errors.New("model unavailable"))
	stats = sp.Last()
	require.NotNil(t, stats)
	assert.Equal(t, "r2", stats.RunID)
	assert.True(t, stats.Failed)
	assert.Contains(t, string(sp.Transcript()), "*** Error *** model unavailable")
}
