package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
)

var echoSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{"type": "string"},
	},
	"required": []string{"text"},
}

func newRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	return r
}

func TestExecuteFinalAnswer(t *testing.T) {
	e := New(newRegistry(t))
	res := e.Execute(context.Background(), core.FinalAnswer{Content: "42"})
	assert.Equal(t, core.OutcomeFinal, res.Outcome)
	assert.Equal(t, "42", res.Value)
	assert.NoError(t, res.Err)
	assert.False(t, res.Failed())
}

func TestExecuteSuccessCarriesCallInfo(t *testing.T) {
	var seen core.CallInfo
	echo := tool.NewFunctionTool("echo", "echo text", echoSchema, func(ctx context.Context, args map[string]any) (any, error) {
		seen, _ = core.CallInfoFrom(ctx)
		return args["text"], nil
	})
	e := New(newRegistry(t, echo))

	ctx := core.WithCallInfo(context.Background(), core.CallInfo{LoopID: "loop-1", StepIndex: 3})
	call := core.ToolCall{ID: "call-9", Name: "echo", Arguments: map[string]any{"text": "hi"}}
	res := e.Execute(ctx, call)

	require.NoError(t, res.Err)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "hi", res.Value)
	assert.Equal(t, "echo", res.Tool)
	assert.Equal(t, core.CallInfo{LoopID: "loop-1", CallID: "call-9", StepIndex: 3}, seen)
}

func TestExecuteClassification(t *testing.T) {
	failing := tool.NewFunctionTool("fail", "always fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full")
	}, tool.WithIdempotency(core.IdempotencyRetryable))
	panicking := tool.NewFunctionTool("panic", "panics", nil, func(context.Context, map[string]any) (any, error) {
		panic("boom")
	}, tool.WithIdempotency(core.IdempotencySafe))
	writer := tool.NewFunctionTool("write", "writes", echoSchema, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("conflict")
	})
	e := New(newRegistry(t, failing, panicking, writer))
	ctx := context.Background()

	tests := []struct {
		name      string
		call      core.ToolCall
		outcome   core.Outcome
		sentinel  error
		retryable bool
	}{
		{"unknown tool", core.NewToolCall("nope", nil), core.OutcomeUnknownTool, core.ErrUnknownTool, false},
		{"missing argument", core.NewToolCall("write", nil), core.OutcomeInvalidArguments, core.ErrInvalidArguments, false},
		{"wrong type", core.NewToolCall("write", map[string]any{"text": 1}), core.OutcomeInvalidArguments, core.ErrInvalidArguments, false},
		{"retryable tool error", core.NewToolCall("fail", nil), core.OutcomeToolError, core.ErrToolExecution, true},
		{"non idempotent tool error", core.NewToolCall("write", map[string]any{"text": "x"}), core.OutcomeToolError, core.ErrToolExecution, false},
		{"panic", core.NewToolCall("panic", nil), core.OutcomeToolError, core.ErrToolExecution, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(ctx, tt.call)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.ErrorIs(t, res.Err, tt.sentinel)
			assert.Equal(t, tt.retryable, res.Retryable())
			assert.True(t, res.Failed())
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "blocks", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tool.WithIdempotency(core.IdempotencySafe))
	e := New(newRegistry(t, slow), func(o *Options) {
		o.ToolTimeout = time.Second
		o.Timeouts = map[string]time.Duration{"slow": 20 * time.Millisecond}
	})
	assert.Equal(t, 20*time.Millisecond, e.TimeoutFor("slow"))
	assert.Equal(t, time.Second, e.TimeoutFor("other"))

	res := e.Execute(context.Background(), core.NewToolCall("slow", nil))
	assert.Equal(t, core.OutcomeTimeout, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrToolTimeout)
	assert.True(t, res.Retryable())
}

func TestExecuteTimeoutWhenToolIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := tool.NewFunctionTool("stuck", "ignores ctx", nil, func(context.Context, map[string]any) (any, error) {
		<-release
		return "late", nil
	})
	e := New(newRegistry(t, stuck), func(o *Options) { o.ToolTimeout = 20 * time.Millisecond })
	res := e.Execute(context.Background(), core.NewToolCall("stuck", nil))
	assert.Equal(t, core.OutcomeTimeout, res.Outcome)
	assert.False(t, res.Retryable())
}

func TestExecuteCancellation(t *testing.T) {
	started := make(chan struct{}, 2)
	cancellable := tool.NewFunctionTool("fetch", "cancellable", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}, tool.WithIdempotency(core.IdempotencySafe))
	pinned := tool.NewFunctionTool("commit", "not cancellable", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		started <- struct{}{}
		select {
		case <-time.After(30 * time.Millisecond):
			return "committed", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, tool.WithCancellable(false))
	e := New(newRegistry(t, cancellable, pinned), func(o *Options) { o.ToolTimeout = time.Second })

	t.Run("cancellable tool observes run cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() { <-started; cancel() }()
		res := e.Execute(ctx, core.NewToolCall("fetch", nil))
		assert.Equal(t, core.OutcomeToolError, res.Outcome)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.False(t, res.Retryable())
	})

	t.Run("non cancellable tool runs to completion", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() { <-started; cancel() }()
		res := e.Execute(ctx, core.NewToolCall("commit", nil))
		require.NoError(t, res.Err)
		assert.Equal(t, "committed", res.Value)
		assert.Error(t, ctx.Err())
	})
}
