package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Error Semantics:
//
//	*ToolError (returned by fn)  -> forwarded unchanged
//	validation failure           -> *ToolError{Code: "VALIDATION_ERROR"}
//	other error                  -> *ToolError{Code: "EXECUTION_ERROR"}
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	idempotency core.IdempotencyClass
	cancellable bool
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

var _ Tool = (*FunctionTool)(nil)

// FunctionOptions configures a FunctionTool.
type FunctionOptions struct {
	// Idempotency defaults to non_idempotent so nothing is retried unless declared.
	Idempotency core.IdempotencyClass
	// Cancellable defaults to true.
	Cancellable bool
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	  func(o *tool.FunctionOptions) { o.Idempotency = core.IdempotencySafe },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionTool {
	opts := FunctionOptions{
		Idempotency: core.IdempotencyNonIdempotent,
		Cancellable: true,
	}
	for _, apply := range optFns {
		apply(&opts)
	}

	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		idempotency: opts.Idempotency,
		cancellable: opts.Cancellable,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection (see SchemaFromStruct).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, SchemaFromStruct(structType), fn, optFns...)
}

// SchemaFromStruct builds an object schema from struct fields and their
// json / description / enum tags.
func SchemaFromStruct(structType any) map[string]any {
	return util.CreateSchema(structType)
}

// WithIdempotency sets the idempotency class.
func WithIdempotency(c core.IdempotencyClass) func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.Idempotency = c }
}

// WithCancellable marks whether the tool observes run cancellation in flight.
func WithCancellable(v bool) func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.Cancellable = v }
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Contract implements Tool.
func (t *FunctionTool) Contract() core.ToolContract {
	return core.ToolContract{
		Name:        t.name,
		Description: t.description,
		InputSchema: t.parameters,
		Idempotency: t.idempotency,
		Cancellable: t.cancellable,
		Executor:    t,
	}
}

// Execute validates args against the declared schema then invokes the
// wrapped function.
func (t *FunctionTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := AsToolError(err); ok {
			return nil, toolErr
		}
		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	return result, nil
}
