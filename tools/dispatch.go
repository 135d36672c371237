package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// NoContentText is the result text of a successful call that returned no text
const NoContentText = "Tool executed successfully but returned no content."

// Result is the outcome of one tool call, errors are carried as text
type Result struct {
	ToolCallID string
	Name       string
	IsError    bool
	Text       string
}

// Response returns the result as the model's tool response part
func (r *Result) Response() llms.ToolCallResponse {
	return llms.ToolCallResponse{
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
		Content:    r.Text,
	}
}

// Message returns the result as a tool message
func (r *Result) Message() llms.Message {
	return llms.MessageFromToolResponse(r.Response())
}

// ParseArguments decodes the model's arguments, empty arguments are an empty object
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Mark(errors.WithStack(err), ErrArgumentParse)
	}
	if args == nil {
		return nil, errors.Wrap(ErrArgumentParse, "arguments must be a JSON object")
	}
	return args, nil
}

// Dispatch executes the tool calls concurrently.
// The results are in the order of the calls, one per call.
func (r *Registry) Dispatch(ctx context.Context, calls []llms.ToolCall) []*Result {
	results := make([]*Result, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.execute(ctx, tc)
		}()
	}
	wg.Wait()

	return results
}

func (r *Registry) execute(ctx context.Context, tc llms.ToolCall) *Result {
	name := tc.Name()
	res := &Result{
		ToolCallID: tc.ID,
		Name:       name,
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, name)

	args, err := ParseArguments(tc.Arguments())
	if err != nil {
		metricskey.StatsToolCallsInvalidArgs.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"reason", "invalid_arguments",
			"tool", name,
			"tool_call_id", tc.ID,
			"err", err.Error(),
		)
		res.IsError = true
		res.Text = "Error: Invalid JSON arguments provided by model: " + err.Error()
		return res
	}

	provider, err := r.Resolve(ctx, name)
	if err != nil {
		res.IsError = true
		if errors.Is(err, ErrToolNotFound) {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
			logger.ContextKV(ctx, xlog.WARNING,
				"reason", "tool_not_found",
				"tool", name,
				"tool_call_id", tc.ID,
			)
			res.Text = fmt.Sprintf("Error: Could not find tool '%s'", name)
			return res
		}
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		res.Text = fmt.Sprintf("Error executing tool '%s': %s", name, err.Error())
		return res
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "calling_tool",
		"tool", name,
		"provider", provider.Name(),
		"tool_call_id", tc.ID,
	)

	out, err := provider.CallTool(ctx, name, args)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "CallTool",
			"tool", name,
			"provider", provider.Name(),
			"err", err.Error(),
		)
		res.IsError = true
		res.Text = fmt.Sprintf("Error executing tool '%s': %s", name, err.Error())
		return res
	}

	if out.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		res.IsError = true
		res.Text = "Tool Execution Error: " + out.Text
		return res
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	res.Text = out.Text
	if res.Text == "" {
		res.Text = NoContentText
	}
	return res
}
