package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/metrics"
	"github.com/hupe1980/agentloop/model/modeltest"
	"github.com/hupe1980/agentloop/tool"
)

func fastRetries(o *Options) {
	o.InitialBackoff = time.Millisecond
	o.MaxBackoff = 2 * time.Millisecond
	o.ToolTimeout = time.Second
}

type eventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *eventRecorder) OnEvent(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == core.EventStatusChanged {
			out = append(out, string(e.From)+"->"+string(e.To))
		}
	}
	return out
}

func (r *eventRecorder) count(typ core.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func noopTool() tool.Tool {
	return tool.NewFunctionTool("noop", "does nothing", nil, func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}, tool.WithIdempotency(core.IdempotencySafe))
}

func failingTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "always fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("conflict")
	})
}

func registry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r, err := tool.NewRegistry(tools...)
	require.NoError(t, err)
	return r
}

func TestFinalAnswerOnFirstDecision(t *testing.T) {
	rec := &eventRecorder{}
	l := New(core.NewGoal("answer", nil), modeltest.NewScriptedGateway(modeltest.Final("42")), registry(t),
		fastRetries, func(o *Options) { o.Observer = rec })
	assert.Equal(t, core.StatusIdle, l.State().Status)

	res, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StatusDone, res.Status)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "42", res.Answer)
	assert.Equal(t, core.ReasonFinalAnswer, res.Reason)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 1, res.Steps[0].Index)
	assert.Equal(t, core.OutcomeFinal, res.Steps[0].Outcome)
	assert.Equal(t, []string{"idle->running", "running->done"}, rec.transitions())
	assert.Equal(t, 1, rec.count(core.EventStepRecorded))

	state := l.State()
	assert.Equal(t, core.StatusDone, state.Status)
	assert.Equal(t, 1, state.StepCount)
	assert.Equal(t, "42", state.Answer)

	got, ok := l.Result()
	assert.True(t, ok)
	assert.Equal(t, res.LoopID, got.LoopID)
}

func TestToolCallVisitsWaitingOnTool(t *testing.T) {
	rec := &eventRecorder{}
	gw := modeltest.NewScriptedGateway(modeltest.Call("noop", nil), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t, noopTool()), fastRetries, func(o *Options) { o.Observer = rec })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "ok", res.Steps[0].Result)
	assert.Equal(t, []string{
		"idle->running",
		"running->waiting_on_tool",
		"waiting_on_tool->running",
		"running->done",
	}, rec.transitions())

	reqs := gw.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Window.Empty())
	require.Len(t, reqs[1].Window.Steps, 1)
	assert.Equal(t, "noop", reqs[1].Window.Steps[0].ToolName())
	assert.Equal(t, []string{"noop"}, []string{reqs[1].Tools[0].Name})
}

func TestMalformedResponsesThenFinal(t *testing.T) {
	gw := modeltest.NewScriptedGateway(modeltest.Malformed("no json"), modeltest.Malformed("no json"), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries, func(o *Options) { o.MalformedCeiling = 3 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 3)
	for _, st := range res.Steps[:2] {
		assert.Equal(t, core.OutcomeGatewayMalformed, st.Outcome)
		require.NotNil(t, st.Err)
		assert.Equal(t, core.ErrorKindGatewayMalformed, st.Err.Kind)
		assert.True(t, st.Err.Recoverable)
		assert.Nil(t, st.Action)
	}
	assert.Equal(t, core.OutcomeFinal, res.Steps[2].Outcome)
	assert.Equal(t, 3, gw.Calls(), "malformed replies are not retried")
}

func TestMalformedCeilingFailsLoop(t *testing.T) {
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Malformed("garbage")), registry(t),
		fastRetries, func(o *Options) { o.MalformedCeiling = 3 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ReasonMalformedCeiling, res.Reason)
	assert.Len(t, res.Steps, 3)
	assert.ErrorIs(t, res.Err, core.ErrGatewayMalformedResponse)
	assert.Contains(t, res.Diagnostic, "3 consecutive malformed")
	assert.False(t, res.Steps[2].Err.Recoverable)
}

func TestUnknownToolCeilingFailsLoop(t *testing.T) {
	for _, ceiling := range []int{1, 2, 4} {
		l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("invented", nil)), registry(t, noopTool()),
			fastRetries, func(o *Options) { o.UnknownToolCeiling = ceiling })

		res, _ := l.Run(context.Background())
		assert.Equal(t, core.StatusFailed, res.Status)
		assert.Equal(t, core.ReasonUnknownToolCeiling, res.Reason)
		assert.Len(t, res.Steps, ceiling)
		assert.ErrorIs(t, res.Err, core.ErrUnknownTool)
		for _, st := range res.Steps {
			assert.Equal(t, core.OutcomeUnknownTool, st.Outcome)
		}
	}
}

func TestUnknownToolCounterResetsOnSuccess(t *testing.T) {
	gw := modeltest.NewScriptedGateway(
		modeltest.Call("invented", nil),
		modeltest.Call("noop", nil),
		modeltest.Call("invented", nil),
		modeltest.Final("done"),
	)
	l := New(core.NewGoal("g", nil), gw, registry(t, noopTool()), fastRetries, func(o *Options) { o.UnknownToolCeiling = 2 })
	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	assert.Len(t, res.Steps, 4)
}

func TestUnclassifiedGatewayErrorIsMalformedStep(t *testing.T) {
	var calls atomic.Int32
	gw := core.GatewayFunc(func(context.Context, core.DecisionRequest) (core.Action, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("prompt template exploded")
		}
		return core.FinalAnswer{Content: "done"}, nil
	})
	l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries)

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.OutcomeGatewayMalformed, res.Steps[0].Outcome)
	assert.Equal(t, core.ErrorKindGatewayMalformed, res.Steps[0].Err.Kind)
	assert.Contains(t, res.Steps[0].Err.Message, "prompt template exploded")
	assert.Equal(t, 1, res.Steps[0].Attempts, "never retried")
}

func TestGatewayUnavailableIsRetried(t *testing.T) {
	gw := modeltest.NewScriptedGateway(modeltest.Unavailable("503"), modeltest.Unavailable("503"), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries, func(o *Options) { o.MaxAttempts = 3 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 3, res.Steps[0].Attempts)
}

func TestGatewayRetriesExhaustedRecordFailedStep(t *testing.T) {
	gw := modeltest.NewScriptedGateway(modeltest.Unavailable("503"), modeltest.Unavailable("503"), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries, func(o *Options) { o.MaxAttempts = 2 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.OutcomeGatewayUnavailable, res.Steps[0].Outcome)
	assert.Equal(t, 2, res.Steps[0].Attempts)
	assert.Equal(t, core.OutcomeFinal, res.Steps[1].Outcome)
}

func TestGatewayTimeoutCountsAsUnavailable(t *testing.T) {
	var calls atomic.Int32
	gw := core.GatewayFunc(func(ctx context.Context, _ core.DecisionRequest) (core.Action, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return core.FinalAnswer{Content: "late"}, nil
	})
	l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries, func(o *Options) {
		o.GatewayTimeout = 20 * time.Millisecond
	})
	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 2, res.Steps[0].Attempts)
}

func TestRetryableToolIsRetried(t *testing.T) {
	var calls atomic.Int32
	flaky := tool.NewFunctionTool("flaky", "fails twice", nil, func(context.Context, map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporary")
		}
		return "finally", nil
	}, tool.WithIdempotency(core.IdempotencyRetryable))

	gw := modeltest.NewScriptedGateway(modeltest.Call("flaky", nil), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t, flaky), fastRetries, func(o *Options) { o.MaxAttempts = 3 })

	res, _ := l.Run(context.Background())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.OutcomeSuccess, res.Steps[0].Outcome)
	assert.Equal(t, "finally", res.Steps[0].Result)
	assert.Equal(t, 3, res.Steps[0].Attempts)
}

func TestNonIdempotentToolIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	write := tool.NewFunctionTool("write", "writes once", nil, func(context.Context, map[string]any) (any, error) {
		calls.Add(1)
		return nil, errors.New("conflict")
	})
	gw := modeltest.NewScriptedGateway(modeltest.Call("write", nil), modeltest.Final("gave up"))
	l := New(core.NewGoal("g", nil), gw, registry(t, write), fastRetries, func(o *Options) { o.MaxAttempts = 5 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.OutcomeToolError, res.Steps[0].Outcome)
	assert.Equal(t, 1, res.Steps[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, res.Steps[1].Context, "conflict", "the failure is fed back to the gateway")
}

func TestInvalidArgumentsAreStepLocal(t *testing.T) {
	strict := tool.NewFunctionTool("strict", "needs q", map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []string{"q"},
	}, func(context.Context, map[string]any) (any, error) { return "ok", nil })
	gw := modeltest.NewScriptedGateway(modeltest.Call("strict", nil), modeltest.Call("strict", map[string]any{"q": "x"}), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t, strict), fastRetries)

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusDone, res.Status)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, core.OutcomeInvalidArguments, res.Steps[0].Outcome)
	assert.Equal(t, core.OutcomeSuccess, res.Steps[1].Outcome)
}

func TestIdenticalFailureCeiling(t *testing.T) {
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("write", nil)), registry(t, failingTool("write")),
		fastRetries, func(o *Options) { o.IdenticalFailureCeiling = 3 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ReasonRepeatedFailure, res.Reason)
	assert.Len(t, res.Steps, 3)
	assert.ErrorIs(t, res.Err, core.ErrToolExecution)
}

func TestIdenticalFailureCeilingDefaultsToBudget(t *testing.T) {
	t.Run("outage shorter than the budget", func(t *testing.T) {
		decisions := make([]modeltest.Decision, 0, 7)
		for range 6 {
			decisions = append(decisions, modeltest.Unavailable("down"))
		}
		gw := modeltest.NewScriptedGateway(append(decisions, modeltest.Final("recovered"))...)
		l := New(core.NewGoal("g", nil), gw, registry(t), fastRetries, func(o *Options) {
			o.MaxSteps = 30
			o.MaxAttempts = 1
		})

		res, _ := l.Run(context.Background())
		assert.Equal(t, core.StatusDone, res.Status)
		assert.Len(t, res.Steps, 7)
	})

	t.Run("failure across the whole budget", func(t *testing.T) {
		l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Unavailable("down")), registry(t), fastRetries, func(o *Options) {
			o.MaxSteps = 10
			o.MaxAttempts = 1
		})

		res, _ := l.Run(context.Background())
		assert.Equal(t, core.StatusFailed, res.Status)
		assert.Equal(t, core.ReasonRepeatedFailure, res.Reason)
		assert.Len(t, res.Steps, 10)
		assert.ErrorIs(t, res.Err, core.ErrGatewayUnavailable)
	})
}

func TestBudgetExhaustionAborts(t *testing.T) {
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("noop", nil)), registry(t, noopTool()),
		fastRetries, func(o *Options) { o.MaxSteps = 5 })

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusAborted, res.Status)
	assert.Equal(t, core.ReasonBudgetExhausted, res.Reason)
	assert.Len(t, res.Steps, 5)
	assert.ErrorIs(t, res.Err, core.ErrBudgetExhausted)
	assert.False(t, res.Succeeded())
}

func TestCancelledBeforeRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gw := modeltest.NewScriptedGateway(modeltest.Final("x"))
	rec := &eventRecorder{}
	l := New(core.NewGoal("g", nil), gw, registry(t), func(o *Options) { o.Observer = rec })

	res, _ := l.Run(ctx)
	assert.Equal(t, core.StatusAborted, res.Status)
	assert.Equal(t, core.ReasonCancelled, res.Reason)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 0, gw.Calls())
	assert.Equal(t, []string{"idle->aborted"}, rec.transitions())
}

func TestCancellationWhileWaitingOnTool(t *testing.T) {
	started := make(chan struct{})
	block := tool.NewFunctionTool("block", "waits for cancellation", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	rec := &eventRecorder{}
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("block", nil)), registry(t, block),
		fastRetries, func(o *Options) { o.Observer = rec })

	res, _ := l.Run(ctx)
	assert.Equal(t, core.StatusAborted, res.Status)
	assert.Equal(t, core.ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.OutcomeToolError, res.Steps[0].Outcome)
	trs := rec.transitions()
	assert.Equal(t, "waiting_on_tool->aborted", trs[len(trs)-1])
}

func TestRunTwice(t *testing.T) {
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Final("x")), registry(t))
	_, err := l.Run(context.Background())
	require.NoError(t, err)
	_, err = l.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestResultBeforeRun(t *testing.T) {
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Final("x")), registry(t))
	_, ok := l.Result()
	assert.False(t, ok)
	select {
	case <-l.Done():
		t.Fatal("done before run")
	default:
	}
}

func TestMemorySummarizationKeepsRecentSteps(t *testing.T) {
	rec := &eventRecorder{}
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("noop", nil)), registry(t, noopTool()),
		fastRetries, func(o *Options) {
			o.MaxSteps = 10
			o.Threshold = 4
			o.Observer = rec
		})

	res, _ := l.Run(context.Background())
	assert.Len(t, res.Steps, 10)
	assert.Positive(t, rec.count(core.EventSummarized))

	summary := l.Memory().Summary()
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.FromIndex)
	raw := l.Memory().Steps()
	require.GreaterOrEqual(t, len(raw), 2)
	assert.Equal(t, summary.ToIndex+1, raw[0].Index)
	assert.Equal(t, 10, raw[len(raw)-1].Index)
	assert.LessOrEqual(t, len(raw), 5)
}

func TestContextBudgetShrinksWindow(t *testing.T) {
	gw := modeltest.NewScriptedGateway()
	gw.Fallback = modeltest.Repeat(modeltest.Call("noop", nil))
	countSteps := core.TokenCounterFunc(func(s string) int { return strings.Count(s, "[step ") })

	l := New(core.NewGoal("g", nil), gw, registry(t, noopTool()), fastRetries, func(o *Options) {
		o.MaxSteps = 6
		o.MaxContextTokens = 2
		o.TokenCounter = countSteps
	})
	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusAborted, res.Status)

	reqs := gw.Requests()
	require.Len(t, reqs, 6)
	for i, req := range reqs {
		assert.Len(t, req.Window.Steps, min(i, 2), "request %d", i)
		assert.LessOrEqual(t, countSteps.Count(req.Window.Render()), 2)
	}
	last := reqs[5].Window.Steps
	assert.Equal(t, 4, last[0].Index)
	assert.Equal(t, 5, last[1].Index)
}

func TestSummarizationFailureWhenMemoryFull(t *testing.T) {
	broken := core.SummarizerFunc(func(context.Context, core.SummaryInput) (string, error) {
		return "", errors.New("summarizer offline")
	})
	l := New(core.NewGoal("g", nil), modeltest.Repeat(modeltest.Call("noop", nil)), registry(t, noopTool()),
		fastRetries, func(o *Options) {
			o.MaxSteps = 20
			o.Threshold = 2
			o.MemoryCapacity = 3
			o.Summarizer = broken
		})

	res, _ := l.Run(context.Background())
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ReasonSummarizationFailure, res.Reason)
	assert.Len(t, res.Steps, 3)
	assert.Contains(t, res.Diagnostic, "summarizer offline")
}

func TestTracingAndMetrics(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reg := prometheus.NewRegistry()

	gw := modeltest.NewScriptedGateway(modeltest.Call("noop", nil), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t, noopTool()), fastRetries, func(o *Options) {
		o.TracerProvider = tp
		o.Metrics = metrics.NewCollector("test", reg)
	})
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["agentloop.loop"])
	assert.Equal(t, 2, names["agentloop.cycle"])

	n, err := testutil.GatherAndCount(reg, "test_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "test_loops_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStructuredLoggerReceivesToolCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Output: &buf, Component: "agent"})

	gw := modeltest.NewScriptedGateway(modeltest.Call("noop", nil), modeltest.Final("done"))
	l := New(core.NewGoal("g", nil), gw, registry(t, noopTool()), fastRetries, func(o *Options) { o.Logger = logger })

	_, err := l.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"tool.call.completed"`)
	assert.Contains(t, out, `"tool.name":"noop"`)
	assert.Equal(t, 1, strings.Count(out, "tool.call.completed"))
}

func TestContextBudgetKeepsUnresolvedErrors(t *testing.T) {
	write := tool.NewFunctionTool("write", "writes a file", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full")
	})
	gw := modeltest.NewScriptedGateway(
		modeltest.Call("write", nil),
		modeltest.Call("noop", nil),
		modeltest.Call("noop", nil),
		modeltest.Final("done"),
	)
	countSteps := core.TokenCounterFunc(func(s string) int { return strings.Count(s, "[step ") })

	l := New(core.NewGoal("g", nil), gw, registry(t, write, noopTool()), fastRetries, func(o *Options) {
		o.MaxContextTokens = 2
		o.TokenCounter = countSteps
	})
	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusDone, res.Status)

	reqs := gw.Requests()
	require.Len(t, reqs, 4)
	last := reqs[3].Window
	require.Len(t, last.Steps, 2)
	assert.Equal(t, 2, last.Steps[0].Index)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 1, last.Summary.ToIndex)
	require.Len(t, last.Summary.UnresolvedErrors, 1)
	assert.Equal(t, "write", last.Summary.UnresolvedErrors[0].Tool)
	assert.Contains(t, last.Render(), "disk full")
	assert.Nil(t, l.Memory().Summary(), "trimming the view leaves memory intact")
}

func TestCancelBeforeRun(t *testing.T) {
	gw := modeltest.NewScriptedGateway(modeltest.Final("x"))
	l := New(core.NewGoal("g", nil), gw, registry(t))

	assert.True(t, l.Cancel(context.Canceled))
	assert.False(t, l.Cancel(context.Canceled), "only once")

	res, ok := l.Result()
	require.True(t, ok)
	assert.Equal(t, core.StatusAborted, res.Status)
	assert.Equal(t, core.ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)

	_, err := l.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Zero(t, gw.Calls())
}
