package core

import "context"

// CallInfo identifies the loop and step a tool invocation belongs to. The
// executor attaches it to the context handed to tool executors.
type CallInfo struct {
	LoopID    string
	GoalID    string
	CallID    string
	StepIndex int
}

type callInfoKey struct{}

// WithCallInfo returns a child context carrying info.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom extracts CallInfo. ok is false when none was attached.
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
