package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/executor"
)

func (l *Loop) retryOptions(kind string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff
	b.MaxInterval = l.opts.MaxBackoff

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.opts.Metrics.RecordRetry(kind)
			l.opts.Logger.Debug("loop.retry",
				"loop_id", l.id,
				"kind", kind,
				"backoff_ms", next.Milliseconds(),
				"error", err.Error(),
			)
		}),
	}
}

// decide asks the gateway for the next action. Only ErrGatewayUnavailable
// (including per-attempt timeouts) is retried. Unclassified gateway errors are
// recorded as malformed responses.
func (l *Loop) decide(ctx context.Context, req core.DecisionRequest) (core.Action, int, error) {
	attempts := 0
	action, err := backoff.Retry(ctx, func() (core.Action, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, l.opts.GatewayTimeout)
		defer cancel()

		start := time.Now()
		a, err := l.gateway.Decide(callCtx, req)
		if err == nil && a == nil {
			err = fmt.Errorf("%w: gateway returned no action", core.ErrGatewayMalformedResponse)
		}
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, core.ErrGatewayMalformedResponse) {
			err = fmt.Errorf("%w: no decision within %s", core.ErrGatewayUnavailable, l.opts.GatewayTimeout)
		}
		if err != nil && ctx.Err() == nil && core.KindOf(err) == core.ErrorKindInternal {
			err = fmt.Errorf("%w: %w", core.ErrGatewayMalformedResponse, err)
		}

		status := "ok"
		if err != nil {
			status = string(core.KindOf(err))
		}
		l.opts.Metrics.RecordGateway(status, time.Since(start))

		switch {
		case err == nil:
			return a, nil
		case errors.Is(err, core.ErrGatewayUnavailable):
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}, l.retryOptions("gateway")...)
	return action, attempts, err
}

// execute runs a tool call, retrying tool errors and timeouts of safe or
// retryable tools.
func (l *Loop) execute(ctx context.Context, call core.ToolCall) (executor.Result, int) {
	var (
		last     executor.Result
		attempts int
	)
	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		last = l.exec.Execute(ctx, call)
		switch {
		case !last.Failed():
			return struct{}{}, nil
		case last.Retryable():
			return struct{}{}, last.Err
		default:
			return struct{}{}, backoff.Permanent(last.Err)
		}
	}, l.retryOptions("tool")...)
	return last, attempts
}
