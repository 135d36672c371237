package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/tools"
)

var TimeNowFn = time.Now

type RunStats struct {
	SessionID string
	RunID     string

	Duration            time.Duration
	TotalMessages       uint32
	LLMCalls            uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMTotalTokens      uint64
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	Failed              bool
}

// Scratchpad records a transcript and the stats of each turn
type Scratchpad struct {
	runs       map[string]*run
	last       *RunStats
	transcript []byte
	mode       Mode
	lock       sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// Last returns the stats of the last completed turn, or nil
func (l *Scratchpad) Last() *RunStats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.last
}

// Transcript returns the transcript of the last completed turn
func (l *Scratchpad) Transcript() []byte {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.transcript
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	tc := chat.GetTurnContext(ctx)
	if tc == nil {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[tc.RunID]
}

func (l *Scratchpad) OnTurnStart(ctx context.Context, sessionID, input string) {
	tc := chat.GetTurnContext(ctx)
	if tc == nil {
		return
	}

	r := &run{
		tc: tc,
		stats: RunStats{
			SessionID: tc.SessionID,
			RunID:     tc.RunID,
		},
		started: TimeNowFn(),
	}

	l.lock.Lock()
	l.runs[tc.RunID] = r
	l.lock.Unlock()

	r.print("*** Turn Started ***")
	r.print("Input:", input)
}

// end completes the run
func (l *Scratchpad) end(ctx context.Context, failed bool) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}

	stats := r.stats
	stats.Duration = TimeNowFn().Sub(r.started)
	stats.Failed = failed

	r.print(fmt.Sprintf("Tool calls: %d, Failed: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
	))
	r.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.LLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMTotalTokens,
	))
	r.print(fmt.Sprintf("*** Turn Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, r.tc.RunID)
	l.last = &stats
	l.transcript = r.w.Bytes()
	l.lock.Unlock()
}

func (l *Scratchpad) OnTurnEnd(ctx context.Context, sessionID, answer string) {
	if r := l.getRun(ctx); r != nil && l.mode == ModeVerbose {
		r.print("Output:", answer)
	}
	l.end(ctx, false)
}

func (l *Scratchpad) OnTurnError(ctx context.Context, sessionID string, err error) {
	if r := l.getRun(ctx); r != nil {
		r.print("*** Error ***", err.Error())
	}
	l.end(ctx, true)
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}

	atomic.AddUint64(&r.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&r.stats.LLMCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&r.stats.TotalMessages, count)

	r.print("*** LLM Call ***", fmt.Sprintf("%s model, %d messages", model.GetName(), count))
	if l.mode == ModeVerbose {
		r.print(printMessages(messages))
	}
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}

	atomic.AddUint64(&r.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	atomic.AddUint64(&r.stats.LLMInputTokens, uint64(tokensIn))
	atomic.AddUint64(&r.stats.LLMOutputTokens, uint64(tokensOut))
	atomic.AddUint64(&r.stats.LLMTotalTokens, uint64(tokensTotal))

	r.print("*** LLM Call End ***", fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d total tokens", model.GetName(), tokensIn, tokensOut, tokensTotal))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, call llms.ToolCall) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ToolsCalls, 1)
	r.print(call.Name(), "*** Tool Start ***")
	r.print(call.Name(), "Input:", call.Arguments())
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, result *tools.Result) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	if result.IsError {
		atomic.AddUint32(&r.stats.ToolsCallsFailed, 1)
		r.print(result.Name, "*** Tool Error ***", result.Text)
		return
	}
	atomic.AddUint32(&r.stats.ToolsCallsSucceeded, 1)
	if l.mode == ModeVerbose {
		r.print(result.Name, "Output:", result.Text)
	}
	r.print(result.Name, "*** Tool End ***")
}

func printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

type run struct {
	tc      *chat.TurnContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// print writes the entries to the run's output in the format:
// [timestamp sessionID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.tc.SessionID)
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.tc.RunID)
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
