package chat

import (
	"github.com/cockroachdb/errors"
)

// State of the conversation engine
type State int

const (
	// AwaitingUserInput is the initial state, the engine waits for the next turn
	AwaitingUserInput State = iota
	// AwaitingModelResponse means a completion request is in flight
	AwaitingModelResponse
	// ToolCallsRequested means the model asked for tools and they are being dispatched
	ToolCallsRequested
	// FinalAnswerReady means the model returned the answer for the turn
	FinalAnswerReady
)

func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "AwaitingUserInput"
	case AwaitingModelResponse:
		return "AwaitingModelResponse"
	case ToolCallsRequested:
		return "ToolCallsRequested"
	case FinalAnswerReady:
		return "FinalAnswerReady"
	}
	return "Unknown"
}

// Event drives a state transition
type Event int

const (
	// EventUserTurn is a new user turn appended to the history
	EventUserTurn Event = iota
	// EventToolCalls is a model response that requests tools
	EventToolCalls
	// EventToolResults is the dispatch of the requested tools completed
	EventToolResults
	// EventFinalAnswer is a model response without tool calls
	EventFinalAnswer
	// EventAnswerDelivered is the answer returned to the caller
	EventAnswerDelivered
	// EventFailed is a fault that abandons the turn
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventUserTurn:
		return "UserTurn"
	case EventToolCalls:
		return "ToolCalls"
	case EventToolResults:
		return "ToolResults"
	case EventFinalAnswer:
		return "FinalAnswer"
	case EventAnswerDelivered:
		return "AnswerDelivered"
	case EventFailed:
		return "Failed"
	}
	return "Unknown"
}

// ErrIllegalTransition is returned by Transition for an event not allowed in the state
var ErrIllegalTransition = errors.New("illegal state transition")

// Transition returns the state that follows the event
func Transition(s State, e Event) (State, error) {
	if e == EventFailed {
		return AwaitingUserInput, nil
	}

	switch {
	case s == AwaitingUserInput && e == EventUserTurn:
		return AwaitingModelResponse, nil
	case s == AwaitingModelResponse && e == EventToolCalls:
		return ToolCallsRequested, nil
	case s == AwaitingModelResponse && e == EventFinalAnswer:
		return FinalAnswerReady, nil
	case s == ToolCallsRequested && e == EventToolResults:
		return AwaitingModelResponse, nil
	case s == FinalAnswerReady && e == EventAnswerDelivered:
		return AwaitingUserInput, nil
	}
	return s, errors.Wrapf(ErrIllegalTransition, "%s on %s", e, s)
}
