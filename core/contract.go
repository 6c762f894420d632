package core

import "context"

// IdempotencyClass declares whether a tool may be retried.
type IdempotencyClass string

const (
	// IdempotencySafe tools have no side effects (reads).
	IdempotencySafe IdempotencyClass = "safe"
	// IdempotencyRetryable tools have side effects that are safe to repeat.
	IdempotencyRetryable IdempotencyClass = "retryable"
	// IdempotencyNonIdempotent tools must never be retried automatically.
	IdempotencyNonIdempotent IdempotencyClass = "non_idempotent"
)

// Retryable reports whether a failed invocation may be attempted again.
func (c IdempotencyClass) Retryable() bool {
	return c == IdempotencySafe || c == IdempotencyRetryable
}

// ToolExecutor performs a tool invocation with already validated arguments.
type ToolExecutor interface {
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ToolFunc adapts a plain function to ToolExecutor.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Execute implements ToolExecutor.
func (f ToolFunc) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// ToolContract describes a registered capability. Read-only after registration.
type ToolContract struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"input_schema"`
	Idempotency IdempotencyClass `json:"idempotency"`
	// Cancellable tools observe run cancellation while in flight. Others are
	// bounded only by their timeout.
	Cancellable bool         `json:"cancellable"`
	Executor    ToolExecutor `json:"-"`
}

// ToolSpec is the gateway-facing view of a contract.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Spec returns the gateway-facing description of the contract.
func (c ToolContract) Spec() ToolSpec {
	return ToolSpec{Name: c.Name, Description: c.Description, Parameters: c.InputSchema}
}
