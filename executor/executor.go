// Package executor invokes a single Action against the tool registry:
// resolve, validate, run under a per-call timeout and classify the outcome.
// It never retries; retry policy belongs to the loop.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
	"github.com/hupe1980/agentloop/logging"
)

// Resolver looks up registered tool contracts. *tool.Registry implements it.
type Resolver interface {
	Resolve(name string) (core.ToolContract, error)
}

// Options configure an Executor.
type Options struct {
	// ToolTimeout bounds every invocation (default 30s).
	ToolTimeout time.Duration
	// Timeouts overrides ToolTimeout per tool name.
	Timeouts map[string]time.Duration
	Logger   logging.Logger
}

// Result is the classified outcome of one action.
type Result struct {
	Action      core.Action
	Tool        string
	Outcome     core.Outcome
	Value       any
	Err         error
	Idempotency core.IdempotencyClass
	Duration    time.Duration
}

// Failed reports whether the action did not succeed.
func (r Result) Failed() bool { return r.Outcome.Failed() }

// Retryable reports whether the loop may invoke the same call again:
// only tool errors and timeouts of safe or retryable tools qualify.
func (r Result) Retryable() bool {
	if r.Outcome != core.OutcomeToolError && r.Outcome != core.OutcomeTimeout {
		return false
	}
	if errors.Is(r.Err, context.Canceled) {
		return false
	}
	return r.Idempotency.Retryable()
}

// Executor runs actions. Safe for concurrent use when the Resolver is.
type Executor struct {
	tools Resolver
	opts  Options
}

// New creates an Executor.
func New(tools Resolver, optFns ...func(o *Options)) *Executor {
	opts := Options{ToolTimeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 30 * time.Second
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{tools: tools, opts: opts}
}

// TimeoutFor returns the timeout applied to the named tool.
func (e *Executor) TimeoutFor(name string) time.Duration {
	if d, ok := e.opts.Timeouts[name]; ok && d > 0 {
		return d
	}
	return e.opts.ToolTimeout
}

// Execute performs the action and classifies the result.
func (e *Executor) Execute(ctx context.Context, action core.Action) Result {
	switch a := action.(type) {
	case core.FinalAnswer:
		return Result{Action: a, Outcome: core.OutcomeFinal, Value: a.Content}
	case core.ToolCall:
		return e.call(ctx, a)
	default:
		err := fmt.Errorf("%w: unsupported action %T", core.ErrGatewayMalformedResponse, action)
		return Result{Action: action, Outcome: core.OutcomeFor(err), Err: err}
	}
}

func (e *Executor) call(ctx context.Context, call core.ToolCall) Result {
	res := Result{Action: call, Tool: call.Name}

	contract, err := e.tools.Resolve(call.Name)
	if err != nil {
		res.Err = err
		res.Outcome = core.OutcomeFor(err)
		e.opts.Logger.Warn("executor.tool.unknown", "tool", call.Name)
		return res
	}
	res.Idempotency = contract.Idempotency

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if contract.InputSchema != nil {
		if err := util.ValidateParameters(args, contract.InputSchema); err != nil {
			res.Err = fmt.Errorf("%w: %s: %v", core.ErrInvalidArguments, call.Name, err)
			res.Outcome = core.OutcomeInvalidArguments
			return res
		}
	}

	timeout := e.TimeoutFor(call.Name)
	parent := ctx
	if !contract.Cancellable {
		parent = context.WithoutCancel(ctx)
	}
	callCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if info, ok := core.CallInfoFrom(ctx); ok {
		info.CallID = call.ID
		callCtx = core.WithCallInfo(callCtx, info)
	} else {
		callCtx = core.WithCallInfo(callCtx, core.CallInfo{CallID: call.ID})
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		var o outcome
		defer func() { done <- o }()
		defer func() {
			if r := recover(); r != nil {
				o.err = fmt.Errorf("%w: %s: panic: %v", core.ErrToolExecution, call.Name, r)
				e.opts.Logger.Error("executor.tool.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
			}
		}()
		o.value, o.err = contract.Executor.Execute(callCtx, args)
	}()

	var o outcome
	select {
	case o = <-done:
	case <-callCtx.Done():
		o.err = callCtx.Err()
	}
	res.Duration = time.Since(start)

	deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	switch {
	case o.err == nil:
		res.Outcome = core.OutcomeSuccess
		res.Value = o.value
	case contract.Cancellable && ctx.Err() != nil:
		res.Err = fmt.Errorf("%w: %s: %w", core.ErrToolExecution, call.Name, ctx.Err())
		res.Outcome = core.OutcomeToolError
	case deadline:
		res.Err = fmt.Errorf("%w: %s after %s", core.ErrToolTimeout, call.Name, timeout)
		res.Outcome = core.OutcomeTimeout
		e.opts.Logger.Warn("executor.tool.timeout", "tool", call.Name, "timeout", timeout.String())
	default:
		res.Err = classify(call.Name, o.err)
		res.Outcome = core.OutcomeFor(res.Err)
	}

	e.opts.Logger.Debug("executor.tool.executed",
		"tool", call.Name,
		"call_id", call.ID,
		"outcome", string(res.Outcome),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// classify wraps raw executor errors into the taxonomy.
func classify(name string, err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidArguments),
		errors.Is(err, core.ErrToolExecution),
		errors.Is(err, core.ErrToolTimeout):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", core.ErrToolExecution, name, err)
	}
}
