package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ chat.Callback = (*Noop)(nil)
	_ chat.Callback = (*Printer)(nil)
	_ chat.Callback = (*PackageLogger)(nil)
	_ chat.Callback = (*Fanout)(nil)
	_ chat.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []chat.Callback
}

func NewFanout(callbacks ...chat.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback chat.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnTurnStart(ctx context.Context, sessionID, input string) {
	for _, callback := range l.callbacks {
		callback.OnTurnStart(ctx, sessionID, input)
	}
}

func (l *Fanout) OnTurnEnd(ctx context.Context, sessionID, answer string) {
	for _, callback := range l.callbacks {
		callback.OnTurnEnd(ctx, sessionID, answer)
	}
}

func (l *Fanout) OnTurnError(ctx context.Context, sessionID string, err error) {
	for _, callback := range l.callbacks {
		callback.OnTurnError(ctx, sessionID, err)
	}
}

func (l *Fanout) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallStart(ctx, model, messages)
	}
}

func (l *Fanout) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallEnd(ctx, model, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, call)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, result *tools.Result) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, result)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnTurnStart(ctx context.Context, sessionID, input string)                       {}
func (l *Noop) OnTurnEnd(ctx context.Context, sessionID, answer string)                        {}
func (l *Noop) OnTurnError(ctx context.Context, sessionID string, err error)                   {}
func (l *Noop) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message)   {}
func (l *Noop) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {}
func (l *Noop) OnToolStart(ctx context.Context, call llms.ToolCall)                            {}
func (l *Noop) OnToolEnd(ctx context.Context, result *tools.Result)                            {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnTurnStart(ctx context.Context, sessionID, input string) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn Start: %s\n", sessionID)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnTurnEnd(ctx context.Context, sessionID, answer string) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn End: %s\n", sessionID)
}

func (l *Printer) OnTurnError(ctx context.Context, sessionID string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn Error: %s: %s\n", sessionID, err.Error())
}

func (l *Printer) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s model, %d messages\n", model.GetName(), len(messages))
}

func (l *Printer) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call End: %s model, %d choices\n", model.GetName(), len(resp.Choices))
}

func (l *Printer) OnToolStart(ctx context.Context, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", call.Name())
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Input: %s\n", call.Arguments())
	}
}

func (l *Printer) OnToolEnd(ctx context.Context, result *tools.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if result.IsError {
		fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", result.Name, result.Text)
		return
	}
	fmt.Fprintf(l.Out, "Tool End: %s\n", result.Name)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", slices.StringUpto(result.Text, 256))
	}
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnTurnStart(ctx context.Context, sessionID, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "turn_start",
		"session", sessionID,
		"input", input,
	)
}

func (l *PackageLogger) OnTurnEnd(ctx context.Context, sessionID, answer string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "turn_end",
		"session", sessionID,
		"answer", slices.StringUpto(answer, 64),
	)
}

func (l *PackageLogger) OnTurnError(ctx context.Context, sessionID string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "turn_error",
		"session", sessionID,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"model", model.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"model", model.GetName(),
		"choices", len(resp.Choices),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", call.Name(),
		"tool_call_id", call.ID,
		"input", call.Arguments(),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, result *tools.Result) {
	level := xlog.DEBUG
	event := "tool_end"
	if result.IsError {
		level = xlog.ERROR
		event = "tool_error"
	}
	l.logger.ContextKV(ctx, level,
		"event", event,
		"tool", result.Name,
		"tool_call_id", result.ToolCallID,
		"output", slices.StringUpto(result.Text, 64),
	)
}
