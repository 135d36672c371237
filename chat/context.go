package chat

import (
	"context"
)

// TurnContext identifies the turn in flight
type TurnContext struct {
	SessionID string
	RunID     string
}

type contextKey int

const (
	keyTurnContext contextKey = iota
)

// WithTurnContext returns a new context with the TurnContext value
func WithTurnContext(ctx context.Context, tc *TurnContext) context.Context {
	return context.WithValue(ctx, keyTurnContext, tc)
}

// GetTurnContext retrieves the TurnContext from the context, or nil
func GetTurnContext(ctx context.Context) *TurnContext {
	if v, ok := ctx.Value(keyTurnContext).(*TurnContext); ok {
		return v
	}
	return nil
}
