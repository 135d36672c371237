package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "chat")

var (
	// ErrTurnInProgress is returned by Run while another turn is in flight
	ErrTurnInProgress = errors.New("turn in progress")
	// ErrToolRoundsExceeded is returned when the model keeps requesting tools past the limit
	ErrToolRoundsExceeded = errors.New("tool rounds exceeded")
)

// Toolset provides the tool schema and executes tool calls, *tools.Registry implements it
type Toolset interface {
	Tools(ctx context.Context) ([]llms.Tool, error)
	Dispatch(ctx context.Context, calls []llms.ToolCall) []*tools.Result
}

var _ Toolset = (*tools.Registry)(nil)

// Engine runs conversation turns against the model and the tools
type Engine struct {
	model   llms.Model
	toolset Toolset
	cfg     config
	history *History

	running   atomic.Bool
	lock      sync.RWMutex
	state     State
	sessionID string
}

// NewEngine returns a conversation engine, toolset may be nil
func NewEngine(model llms.Model, toolset Toolset, opts ...Option) *Engine {
	e := &Engine{
		model:   model,
		toolset: toolset,
		cfg: config{
			temperature: DefaultTemperature,
		},
		history:   NewHistory(),
		state:     AwaitingUserInput,
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&e.cfg)
	}
	return e
}

// State returns the current state
func (e *Engine) State() State {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.state
}

// SessionID returns the ID of the conversation, it changes on Reset
func (e *Engine) SessionID() string {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.sessionID
}

// History returns a copy of the messages
func (e *Engine) History() []llms.Message {
	return e.history.Messages()
}

// Reset starts a new conversation
func (e *Engine) Reset() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrTurnInProgress
	}
	defer e.running.Store(false)

	e.history.Reset()
	e.lock.Lock()
	e.state = AwaitingUserInput
	e.sessionID = uuid.NewString()
	e.lock.Unlock()
	return nil
}

func (e *Engine) fire(ev Event) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	next, err := Transition(e.state, ev)
	if err != nil {
		return err
	}
	e.state = next
	return nil
}

// Run executes one turn and returns the final answer of the model
func (e *Engine) Run(ctx context.Context, query string) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		return "", ErrTurnInProgress
	}
	defer e.running.Store(false)

	sessionID := e.SessionID()
	ctx = WithTurnContext(ctx, &TurnContext{
		SessionID: sessionID,
		RunID:     uuid.NewString(),
	})
	modelName := e.model.GetName()
	started := time.Now()
	defer metricskey.PerfChatRun.MeasureSince(started, modelName)

	if cb := e.cfg.callback; cb != nil {
		cb.OnTurnStart(ctx, sessionID, query)
	}

	answer, err := e.run(ctx, sessionID, query)
	if err != nil {
		_ = e.fire(EventFailed)
		logger.ContextKV(ctx, xlog.ERROR,
			"session", sessionID,
			"input", slices.StringUpto(query, 64),
			"err", err.Error(),
		)
		if cb := e.cfg.callback; cb != nil {
			cb.OnTurnError(ctx, sessionID, err)
		}
		return "", err
	}

	if cb := e.cfg.callback; cb != nil {
		cb.OnTurnEnd(ctx, sessionID, answer)
	}
	return answer, nil
}

func (e *Engine) run(ctx context.Context, sessionID, query string) (string, error) {
	msgs, err := e.userMessages(ctx, query)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		logger.ContextKV(ctx, xlog.DEBUG,
			"session", sessionID,
			"status", "empty_input",
			"input", slices.StringUpto(query, 64),
		)
		return "", nil
	}
	e.history.Add(msgs...)
	if err = e.fire(EventUserTurn); err != nil {
		return "", err
	}

	rounds := 0
	for {
		choice, err := e.complete(ctx)
		if err != nil {
			return "", err
		}

		if !llms.IsToolCallResponse(choice) {
			e.history.Add(llms.AssistantMessage(choice))
			if err = e.fire(EventFinalAnswer); err != nil {
				return "", err
			}
			answer := llms.TextFromChoice(choice)
			if err = e.fire(EventAnswerDelivered); err != nil {
				return "", err
			}
			return answer, nil
		}

		assignToolCallIDs(choice)
		e.history.Add(llms.AssistantMessage(choice))
		if err = e.fire(EventToolCalls); err != nil {
			return "", err
		}

		rounds++
		metricskey.StatsChatToolRounds.IncrCounter(1, e.model.GetName())
		logger.ContextKV(ctx, xlog.DEBUG,
			"session", sessionID,
			"status", "tool_calls",
			"round", rounds,
			"count", len(choice.ToolCalls),
		)

		e.history.Add(e.dispatch(ctx, choice.ToolCalls)...)
		if err = e.fire(EventToolResults); err != nil {
			return "", err
		}

		if e.cfg.maxToolRounds > 0 && rounds >= e.cfg.maxToolRounds {
			return "", errors.Wrapf(ErrToolRoundsExceeded, "limit %d", e.cfg.maxToolRounds)
		}
	}
}

func (e *Engine) userMessages(ctx context.Context, query string) ([]llms.Message, error) {
	if e.cfg.preprocessor != nil {
		msgs, err := e.cfg.preprocessor.Process(ctx, query)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to process input")
		}
		return msgs, nil
	}
	return []llms.Message{llms.MessageFromTextParts(llms.RoleUser, query)}, nil
}

func (e *Engine) callOptions(ctx context.Context) ([]llms.CallOption, error) {
	opts := []llms.CallOption{
		llms.WithTemperature(e.cfg.temperature),
	}
	if e.cfg.systemPrompt != "" {
		opts = append(opts, llms.WithSystemPrompt(e.cfg.systemPrompt))
	}
	if len(e.cfg.stopWords) > 0 {
		opts = append(opts, llms.WithStopWords(e.cfg.stopWords))
	}
	if e.toolset != nil {
		list, err := e.toolset.Tools(ctx)
		if err != nil {
			return nil, err
		}
		// no tools means no tools option, an empty list would force tool mode on some providers
		if len(list) > 0 {
			opts = append(opts, llms.WithTools(list))
		}
	}
	return append(opts, e.cfg.callOptions...), nil
}

// complete requests a completion with the full history
func (e *Engine) complete(ctx context.Context) (*llms.ContentChoice, error) {
	opts, err := e.callOptions(ctx)
	if err != nil {
		return nil, err
	}

	messages := e.history.Messages()
	modelName := e.model.GetName()

	if cb := e.cfg.callback; cb != nil {
		cb.OnLLMCallStart(ctx, e.model, messages)
	}

	bytesSent := llmutils.CountMessagesContentSize(messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), modelName)

	started := time.Now()
	resp, err := e.model.GenerateContent(ctx, messages, opts...)
	metricskey.PerfLLMCall.MeasureSince(started, modelName)
	if err != nil {
		metricskey.StatsLLMCallsFailed.IncrCounter(1, modelName)
		return nil, errors.WithMessage(err, "failed to generate content")
	}
	if resp == nil || len(resp.Choices) == 0 {
		metricskey.StatsLLMCallsFailed.IncrCounter(1, modelName)
		return nil, errors.New("model returned no choices")
	}

	if cb := e.cfg.callback; cb != nil {
		cb.OnLLMCallEnd(ctx, e.model, resp)
	}

	metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), modelName)
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), modelName)

	return resp.Choices[0], nil
}

func (e *Engine) dispatch(ctx context.Context, calls []llms.ToolCall) []llms.Message {
	cb := e.cfg.callback
	if cb != nil {
		for _, call := range calls {
			cb.OnToolStart(ctx, call)
		}
	}

	var results []*tools.Result
	if e.toolset != nil {
		results = e.toolset.Dispatch(ctx, calls)
	} else {
		// the model asked for a tool it was never offered
		results = make([]*tools.Result, len(calls))
		for i, call := range calls {
			results[i] = &tools.Result{
				ToolCallID: call.ID,
				Name:       call.Name(),
				IsError:    true,
				Text:       "Error: Could not find tool '" + call.Name() + "'",
			}
		}
	}

	msgs := make([]llms.Message, len(results))
	for i, res := range results {
		if cb != nil {
			cb.OnToolEnd(ctx, res)
		}
		msgs[i] = res.Message()
	}
	return msgs
}

// assignToolCallIDs gives an ID to calls the provider left without one,
// tool messages are matched to calls by ID
func assignToolCallIDs(choice *llms.ContentChoice) {
	for i := range choice.ToolCalls {
		if choice.ToolCalls[i].ID == "" {
			choice.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
		if choice.ToolCalls[i].Type == "" {
			choice.ToolCalls[i].Type = "function"
		}
	}
}
