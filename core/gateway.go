package core

import "context"

// DecisionRequest is the input of a single gateway decision.
type DecisionRequest struct {
	Goal   Goal
	Window MemoryWindow
	Tools  []ToolSpec
}

// Gateway turns goal, memory and available tools into exactly one Action.
//
// Implementations return an error wrapping ErrGatewayUnavailable for
// transient failures and ErrGatewayMalformedResponse when the model reply
// cannot be parsed. Gateways never truncate the window; the loop enforces
// context size before calling.
type Gateway interface {
	Decide(ctx context.Context, req DecisionRequest) (Action, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req DecisionRequest) (Action, error)

// Decide implements Gateway.
func (f GatewayFunc) Decide(ctx context.Context, req DecisionRequest) (Action, error) {
	return f(ctx, req)
}

// TokenCounter measures the size of rendered context.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// Count implements TokenCounter.
func (f TokenCounterFunc) Count(text string) int { return f(text) }
