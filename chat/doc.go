// Package chat implements the conversation engine.
//
// A turn moves through an explicit set of states:
//
//	AwaitingUserInput -> AwaitingModelResponse -> ToolCallsRequested -> AwaitingModelResponse ...
//	                                           -> FinalAnswerReady -> AwaitingUserInput
//
// The engine owns the message history. An assistant message that requests
// tools is always followed by one tool message per call, in call order.
// History is never rolled back: a failed turn keeps the messages appended
// before the failure, so the next turn continues from that state.
package chat
