package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/executor"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/memory"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("agent: loop already started")

const tracerName = "github.com/hupe1980/agentloop/agent"

// Toolset is the read-only view of the tool registry a loop needs.
// *tool.Registry implements it.
type Toolset interface {
	executor.Resolver
	Specs() []core.ToolSpec
}

// Loop drives one goal through reason -> act -> observe cycles.
type Loop struct {
	id      string
	goal    core.Goal
	gateway core.Gateway
	tools   Toolset
	exec    *executor.Executor
	store   *memory.Store
	budget  *core.StepBudget
	tracker *failureTracker
	tracer  trace.Tracer
	opts    Options

	started atomic.Bool
	done    chan struct{}

	mu      sync.RWMutex
	status  core.Status
	history []core.Step
	result  core.LoopResult
}

// New creates an idle Loop for goal.
func New(goal core.Goal, gateway core.Gateway, tools Toolset, optFns ...func(o *Options)) *Loop {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()

	if goal.ID == "" {
		goal.ID = core.NewID()
	}
	id := core.NewID()

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	l := &Loop{
		id:      id,
		goal:    goal,
		gateway: gateway,
		tools:   tools,
		budget:  core.NewStepBudget(opts.MaxSteps),
		tracker: newFailureTracker(opts),
		tracer:  tp.Tracer(tracerName),
		opts:    opts,
		done:    make(chan struct{}),
		status:  core.StatusIdle,
	}
	l.exec = executor.New(tools, func(o *executor.Options) {
		o.ToolTimeout = opts.ToolTimeout
		o.Timeouts = opts.ToolTimeouts
		o.Logger = opts.Logger
	})
	l.store = memory.NewStore(func(o *memory.Options) {
		o.Capacity = opts.MemoryCapacity
		o.Threshold = opts.Threshold
		if opts.Summarizer != nil {
			o.Summarizer = opts.Summarizer
		}
		o.Archive = opts.Archive
		o.LoopID = id
		o.Goal = goal
		o.Logger = opts.Logger
	})
	return l
}

// ID returns the loop identifier.
func (l *Loop) ID() string { return l.id }

// Goal returns the goal this loop pursues.
func (l *Loop) Goal() core.Goal { return l.goal }

// Memory returns the loop's private memory store.
func (l *Loop) Memory() *memory.Store { return l.store }

// Done is closed once the loop reached a terminal status.
func (l *Loop) Done() <-chan struct{} { return l.done }

// State returns a point-in-time snapshot.
func (l *Loop) State() core.AgentState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return core.AgentState{
		LoopID:     l.id,
		Goal:       l.goal,
		StepCount:  len(l.history),
		Status:     l.status,
		Answer:     l.result.Answer,
		Diagnostic: l.result.Diagnostic,
	}
}

// Steps returns every recorded step, including those collapsed out of memory.
func (l *Loop) Steps() []core.Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Step(nil), l.history...)
}

// Result returns the terminal result; ok is false while the loop is running.
func (l *Loop) Result() (core.LoopResult, bool) {
	select {
	case <-l.done:
	default:
		return core.LoopResult{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.result, true
}

// Run executes cycles until a terminal status. The returned error is non-nil
// only when the loop was already started; terminal causes are carried in
// LoopResult.Err.
func (l *Loop) Run(ctx context.Context) (core.LoopResult, error) {
	if !l.started.CompareAndSwap(false, true) {
		return core.LoopResult{}, ErrAlreadyStarted
	}

	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "agentloop.loop", trace.WithAttributes(
		attribute.String("loop.id", l.id),
		attribute.String("goal.id", l.goal.ID),
		attribute.Int("loop.max_steps", l.opts.MaxSteps),
	))
	defer span.End()

	l.opts.Metrics.LoopStarted()
	l.opts.Logger.Info("loop.started", "loop_id", l.id, "goal_id", l.goal.ID, "max_steps", l.opts.MaxSteps)

	if err := ctx.Err(); err != nil {
		l.terminate(core.StatusAborted, core.ReasonCancelled, "", err)
	} else {
		l.transition(core.StatusRunning, "")
		for !l.cycle(ctx) {
		}
	}

	res, _ := l.Result()
	span.SetAttributes(
		attribute.String("loop.status", string(res.Status)),
		attribute.String("loop.reason", res.Reason),
		attribute.Int("loop.steps", len(res.Steps)),
	)
	if res.Status == core.StatusFailed {
		span.SetStatus(codes.Error, res.Diagnostic)
	}

	dur := time.Since(start)
	l.opts.Metrics.LoopFinished(string(res.Status), res.Reason, dur)
	l.opts.Logger.Info("loop.finished",
		"loop_id", l.id,
		"status", string(res.Status),
		"reason", res.Reason,
		"steps", len(res.Steps),
		"duration_ms", dur.Milliseconds(),
	)
	return res, nil
}

// Cancel aborts a loop that was never run. It reports false once Run was
// called; running loops are cancelled through their context.
func (l *Loop) Cancel(cause error) bool {
	if !l.started.CompareAndSwap(false, true) {
		return false
	}
	l.terminate(core.StatusAborted, core.ReasonCancelled, "", cause)
	l.opts.Logger.Info("loop.cancelled", "loop_id", l.id, "goal_id", l.goal.ID)
	return true
}

// cycle runs one reason -> act -> observe iteration and reports whether the
// loop reached a terminal status.
func (l *Loop) cycle(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		l.terminate(core.StatusAborted, core.ReasonCancelled, "", err)
		return true
	}
	if err := l.budget.Consume(); err != nil {
		l.terminate(core.StatusAborted, core.ReasonBudgetExhausted, err.Error(), err)
		return true
	}

	index := l.store.LastIndex() + 1
	ctx, span := l.tracer.Start(ctx, "agentloop.cycle", trace.WithAttributes(
		attribute.String("loop.id", l.id),
		attribute.Int("step.index", index),
	))
	defer span.End()

	l.opts.Logger.Debug("loop.cycle.start", "loop_id", l.id, "step", index)

	if err := l.compact(ctx); err != nil {
		l.terminate(core.StatusFailed, core.ReasonSummarizationFailure, err.Error(), err)
		return true
	}
	window := l.contextWindow(ctx)
	rendered := window.Render()

	start := time.Now()
	action, attempts, err := l.decide(ctx, core.DecisionRequest{
		Goal:   l.goal,
		Window: window,
		Tools:  l.tools.Specs(),
	})
	if ctx.Err() != nil {
		l.terminate(core.StatusAborted, core.ReasonCancelled, "", ctx.Err())
		return true
	}

	step := core.Step{
		Index:     index,
		Context:   rendered,
		Action:    action,
		Attempts:  attempts,
		Timestamp: start,
	}
	waiting := false
	cause := err

	switch a := action.(type) {
	case nil:
		step.Outcome = core.OutcomeFor(err)
		step.Err = core.NewStepError(err, true)
	case core.FinalAnswer:
		step.Outcome = core.OutcomeFinal
		step.Result = a.Content
	case core.ToolCall:
		l.transition(core.StatusWaitingOnTool, "")
		waiting = true
		callCtx := core.WithCallInfo(ctx, core.CallInfo{LoopID: l.id, GoalID: l.goal.ID, StepIndex: index})
		res, toolAttempts := l.execute(callCtx, a)
		step.Attempts = toolAttempts
		step.Outcome = res.Outcome
		cause = res.Err
		if res.Err != nil {
			step.Err = core.NewStepError(res.Err, true)
		} else {
			step.Result = res.Value
		}
	}
	step.Duration = time.Since(start)

	reason, diagnostic := l.tracker.observe(step)
	if reason != "" {
		step.Err.Recoverable = false
	}

	if err := l.record(ctx, step); err != nil {
		l.terminate(core.StatusFailed, core.ReasonSummarizationFailure, err.Error(), err)
		return true
	}
	l.annotate(span, step)

	switch {
	case step.Outcome == core.OutcomeFinal:
		l.terminate(core.StatusDone, core.ReasonFinalAnswer, "", nil)
		return true
	case ctx.Err() != nil:
		l.terminate(core.StatusAborted, core.ReasonCancelled, "", ctx.Err())
		return true
	}
	if waiting {
		l.transition(core.StatusRunning, "")
	}
	if reason != "" {
		l.terminate(core.StatusFailed, reason, diagnostic, fmt.Errorf("agent: %s: %w", reason, cause))
		return true
	}
	return false
}

// compact summarizes memory once the raw step count exceeds the threshold.
// A failed summarization is only fatal when memory is full.
func (l *Loop) compact(ctx context.Context) error {
	if !l.store.NeedsSummary() {
		return nil
	}
	if err := l.summarize(ctx); err != nil {
		if l.store.Full() {
			return err
		}
		l.opts.Logger.Warn("loop.summarize.deferred", "loop_id", l.id, "error", err.Error())
	}
	return nil
}

func (l *Loop) summarize(ctx context.Context) error {
	rec, err := l.store.Summarize(ctx)
	l.opts.Metrics.RecordSummarization(err == nil)
	if err != nil {
		return err
	}
	if rec != nil {
		l.emit(core.NewSummaryEvent(l.id, l.goal.ID, rec))
	}
	return nil
}

// contextWindow returns the memory window, summarizing and then folding the
// oldest raw steps of the view into its summary until it fits MaxContextTokens.
func (l *Loop) contextWindow(ctx context.Context) core.MemoryWindow {
	w := l.store.Window(l.opts.WindowSize)
	if l.opts.MaxContextTokens <= 0 || l.fits(w) {
		return w
	}

	if l.store.Len() > l.store.Threshold()/2 {
		if err := l.summarize(ctx); err != nil {
			l.opts.Logger.Warn("loop.summarize.failed", "loop_id", l.id, "error", err.Error())
		} else {
			w = l.store.Window(l.opts.WindowSize)
		}
	}
	for !l.fits(w) && len(w.Steps) > 1 {
		w.Summary = memory.FoldIntoView(w.Summary, w.Steps[:1])
		w.Steps = w.Steps[1:]
	}
	if !l.fits(w) {
		l.opts.Logger.Warn("loop.context.oversize",
			"loop_id", l.id,
			"tokens", l.opts.TokenCounter.Count(w.Render()),
			"max_tokens", l.opts.MaxContextTokens,
		)
	}
	return w
}

func (l *Loop) fits(w core.MemoryWindow) bool {
	return l.opts.TokenCounter.Count(w.Render()) <= l.opts.MaxContextTokens
}

// record appends step to memory, summarizing once if memory is full.
func (l *Loop) record(ctx context.Context, step core.Step) error {
	err := l.store.Append(step)
	if errors.Is(err, core.ErrMemoryCapacity) {
		if serr := l.summarize(ctx); serr != nil {
			return fmt.Errorf("%w: %w", err, serr)
		}
		err = l.store.Append(step)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.history = append(l.history, step)
	l.mu.Unlock()

	l.opts.Metrics.RecordStep(step.ToolName(), string(step.Outcome), step.Duration)
	l.opts.Logger.Info("loop.step.recorded",
		"loop_id", l.id,
		"step", step.Index,
		"action", core.DescribeAction(step.Action),
		"outcome", string(step.Outcome),
		"attempts", step.Attempts,
		"duration_ms", step.Duration.Milliseconds(),
	)
	if sl, ok := l.opts.Logger.(*logging.StructuredLogger); ok {
		if _, isCall := step.Action.(core.ToolCall); isCall {
			sl.LogToolCall(step.ToolName(), string(step.Outcome), step.Attempts, step.Duration, step.Err)
		}
	}
	l.emit(core.NewStepEvent(l.id, l.goal.ID, step))
	return nil
}

func (l *Loop) annotate(span trace.Span, step core.Step) {
	kind := "none"
	if step.Action != nil {
		kind = step.Action.Kind()
	}
	span.SetAttributes(
		attribute.String("action.kind", kind),
		attribute.String("tool.name", step.ToolName()),
		attribute.String("step.outcome", string(step.Outcome)),
		attribute.Int("step.attempts", step.Attempts),
	)
	if step.Err != nil {
		span.SetStatus(codes.Error, step.Err.Error())
	}
}

// transition moves the loop to a non-terminal status.
func (l *Loop) transition(to core.Status, reason string) {
	l.mu.Lock()
	from := l.status
	if err := core.ValidateTransition(from, to); err != nil {
		l.mu.Unlock()
		l.opts.Logger.Error("loop.transition.invalid", "loop_id", l.id, "error", err.Error())
		return
	}
	l.status = to
	l.mu.Unlock()

	l.opts.Metrics.RecordTransition(string(from), string(to))
	l.emit(core.NewStatusEvent(l.id, l.goal.ID, from, to, reason))
}

// terminate records the terminal result and moves to status.
func (l *Loop) terminate(status core.Status, reason, diagnostic string, err error) {
	l.mu.Lock()
	from := l.status
	if terr := core.ValidateTransition(from, status); terr != nil {
		l.opts.Logger.Error("loop.transition.invalid", "loop_id", l.id, "error", terr.Error())
	}
	l.status = status

	res := core.LoopResult{
		LoopID:     l.id,
		Goal:       l.goal,
		Status:     status,
		Diagnostic: diagnostic,
		Reason:     reason,
		Steps:      append([]core.Step(nil), l.history...),
		Err:        err,
	}
	if status == core.StatusDone && len(l.history) > 0 {
		if answer, ok := l.history[len(l.history)-1].Result.(string); ok {
			res.Answer = answer
		}
	}
	if res.Diagnostic == "" && err != nil {
		res.Diagnostic = err.Error()
	}
	l.result = res
	l.mu.Unlock()

	l.opts.Metrics.RecordTransition(string(from), string(status))
	l.emit(core.NewStatusEvent(l.id, l.goal.ID, from, status, reason))
	close(l.done)
}

func (l *Loop) emit(ev core.Event) {
	if l.opts.Observer != nil {
		l.opts.Observer.OnEvent(ev)
	}
}
