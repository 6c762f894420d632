// Package agentloop is the run boundary of the agent runtime. A Runtime
// starts runs of one or more goals, each executed by a flow of agent loops,
// and hands out RunHandles to observe, await and cancel them.
//
// Most applications build a Runtime from configuration:
//
//	cfg, err := config.NewLoader().WithConfigPath("agentloop.yaml").Load()
//	rt, err := agentloop.NewFromConfig(ctx, cfg)
//	defer rt.Close()
//
//	run, err := rt.StartRun(ctx, "Find the title of https://example.com")
//	res, err := run.Result(ctx)
//
// or wire a gateway and tool registry directly with New.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentloop/agent"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/flow"
	"github.com/hupe1980/agentloop/logging"
)

var (
	// ErrRunNotFound is returned when cancelling a run that is not active.
	ErrRunNotFound = errors.New("agentloop: run not found")
	// ErrClosed is returned when starting a run on a closed Runtime.
	ErrClosed = errors.New("agentloop: runtime closed")
	// ErrNoGoals is returned when StartRun gets no goals.
	ErrNoGoals = errors.New("agentloop: at least one goal is required")
)

// Options configure a Runtime.
type Options struct {
	// MaxConcurrentRuns bounds runs executing at once; 0 means unlimited.
	// Further runs stay pending until a slot frees up.
	MaxConcurrentRuns int64
	// Flow options are applied to the coordinator shared by all runs.
	Flow []func(o *flow.Options)
	// Closers are closed by Runtime.Close after every run has finished.
	Closers []io.Closer
	Logger  logging.Logger
}

// Runtime starts and tracks runs. It is safe for concurrent use.
type Runtime struct {
	coord *flow.Coordinator
	sem   *semaphore.Weighted
	opts  Options

	mu     sync.Mutex
	runs   map[string]*RunHandle
	closed bool
	wg     sync.WaitGroup
}

// New creates a Runtime on a gateway and a read-only tool registry.
func New(gateway core.Gateway, tools agent.Toolset, optFns ...func(o *Options)) *Runtime {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	flowFns := append([]func(o *flow.Options){func(o *flow.Options) { o.Logger = opts.Logger }}, opts.Flow...)

	r := &Runtime{
		coord: flow.NewCoordinator(gateway, tools, flowFns...),
		opts:  opts,
		runs:  make(map[string]*RunHandle),
	}
	if opts.MaxConcurrentRuns > 0 {
		r.sem = semaphore.NewWeighted(opts.MaxConcurrentRuns)
	}
	return r
}

// StartRun starts a run with one loop per goal and returns immediately. The
// run is cancelled together with ctx.
func (r *Runtime) StartRun(ctx context.Context, goals ...string) (*RunHandle, error) {
	if len(goals) == 0 {
		return nil, ErrNoGoals
	}
	gs := make([]core.Goal, 0, len(goals))
	for _, g := range goals {
		gs = append(gs, core.NewGoal(g, nil))
	}
	return r.StartGoals(ctx, gs...)
}

// StartGoals is StartRun for prepared goals.
func (r *Runtime) StartGoals(ctx context.Context, goals ...core.Goal) (*RunHandle, error) {
	if len(goals) == 0 {
		return nil, ErrNoGoals
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &RunHandle{
		id:     core.NewID(),
		goals:  goals,
		loops:  r.coord.NewLoops(goals...),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  RunPending,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	r.runs[h.id] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.opts.Logger.Info("run.started", "run_id", h.id, "goals", len(goals))

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.runs, h.id)
			r.mu.Unlock()
			cancel()
		}()
		r.execute(runCtx, h)
	}()

	return h, nil
}

func (r *Runtime) execute(ctx context.Context, h *RunHandle) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			res, ferr := r.coord.Abandon(h.id, h.loops, err)
			r.opts.Logger.Warn("run.abandoned", "run_id", h.id, "error", err.Error())
			h.finish(res, ferr)
			return
		}
		defer r.sem.Release(1)
	}
	h.setState(RunRunning)

	res, err := r.coord.Execute(ctx, h.id, h.loops)
	if err != nil {
		r.opts.Logger.Warn("run.finished", "run_id", h.id, "status", string(res.Status), "error", err.Error())
	} else {
		r.opts.Logger.Info("run.finished", "run_id", h.id, "status", string(res.Status))
	}
	if sl, ok := r.opts.Logger.(*logging.StructuredLogger); ok {
		sl.WithRun(h.id, "").LogFlowExecution(string(res.Status), len(res.Loops), len(res.Succeeded()), res.Duration, err)
	}
	h.finish(res, err)
}

// Run starts a run and waits for its result.
func (r *Runtime) Run(ctx context.Context, goals ...string) (flow.Result, error) {
	h, err := r.StartRun(ctx, goals...)
	if err != nil {
		return flow.Result{}, err
	}
	return h.Result(ctx)
}

// Get returns an active run.
func (r *Runtime) Get(runID string) (*RunHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[runID]
	return h, ok
}

// Active returns the IDs of runs that have not finished.
func (r *Runtime) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// Cancel cancels an active run by ID.
func (r *Runtime) Cancel(runID string) error {
	h, ok := r.Get(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	h.Cancel()
	return nil
}

// Close cancels active runs, waits for them to finish and closes the
// configured resources. Calling Close more than once is a no-op.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, h := range r.runs {
		h.Cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	var errs []error
	for _, c := range r.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.opts.Logger.Info("runtime.closed", "closers", len(r.opts.Closers))
	return errors.Join(errs...)
}
