package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentloop/agent"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/metrics"
)

// ErrNoLoopSucceeded is returned when no loop of a run reached Done.
var ErrNoLoopSucceeded = errors.New("flow: no loop reached done")

// Status is the aggregate outcome of a run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// Sink receives the merged result of every run.
type Sink interface {
	Publish(ctx context.Context, res Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res Result) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, res Result) error { return f(ctx, res) }

// LoopReport is the per-loop part of a Result.
type LoopReport struct {
	LoopID     string      `json:"loop_id"`
	GoalID     string      `json:"goal_id"`
	Goal       string      `json:"goal"`
	Status     core.Status `json:"status"`
	Answer     string      `json:"answer,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Steps      int         `json:"steps"`
}

// Result is the merged outcome of a run. Loops and Results follow sub-goal
// submission order.
type Result struct {
	RunID    string        `json:"run_id"`
	Status   Status        `json:"status"`
	Answer   string        `json:"answer,omitempty"`
	Loops    []LoopReport  `json:"loops"`
	Duration time.Duration `json:"duration"`

	Results []core.LoopResult `json:"-"`
}

// Succeeded returns the reports of loops that reached Done.
func (r Result) Succeeded() []LoopReport {
	var out []LoopReport
	for _, l := range r.Loops {
		if l.Status == core.StatusDone {
			out = append(out, l)
		}
	}
	return out
}

// Failed returns the reports of loops that did not reach Done.
func (r Result) Failed() []LoopReport {
	var out []LoopReport
	for _, l := range r.Loops {
		if l.Status != core.StatusDone {
			out = append(out, l)
		}
	}
	return out
}

// Options configure a Coordinator.
type Options struct {
	// Parallelism caps concurrently running loops; 0 runs all at once.
	Parallelism int
	// Agent options are applied to every loop.
	Agent []func(o *agent.Options)
	// Sink optionally receives every merged result.
	Sink    Sink
	Logger  logging.Logger
	Metrics *metrics.Collector
}

// Coordinator runs agent loops for a list of sub-goals.
type Coordinator struct {
	gateway core.Gateway
	tools   agent.Toolset
	opts    Options
}

// NewCoordinator creates a Coordinator sharing gateway and tools across loops.
func NewCoordinator(gateway core.Gateway, tools agent.Toolset, optFns ...func(o *Options)) *Coordinator {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Coordinator{gateway: gateway, tools: tools, opts: opts}
}

// NewLoops creates one idle loop per goal.
func (c *Coordinator) NewLoops(goals ...core.Goal) []*agent.Loop {
	loops := make([]*agent.Loop, 0, len(goals))
	for _, g := range goals {
		optFns := append([]func(o *agent.Options){func(o *agent.Options) {
			o.Logger = c.opts.Logger
			o.Metrics = c.opts.Metrics
		}}, c.opts.Agent...)
		loops = append(loops, agent.New(g, c.gateway, c.tools, optFns...))
	}
	return loops
}

// Run creates loops for goals and executes them.
func (c *Coordinator) Run(ctx context.Context, runID string, goals ...core.Goal) (Result, error) {
	return c.Execute(ctx, runID, c.NewLoops(goals...))
}

// Execute runs loops to completion and merges their results. The error is
// ErrNoLoopSucceeded when no loop reached Done; the Result is populated
// either way.
func (c *Coordinator) Execute(ctx context.Context, runID string, loops []*agent.Loop) (Result, error) {
	if len(loops) == 0 {
		return Result{RunID: runID, Status: StatusFailed}, fmt.Errorf("%w: no goals", ErrNoLoopSucceeded)
	}
	if runID == "" {
		runID = core.NewID()
	}

	start := time.Now()
	c.opts.Logger.Info("flow.started", "run_id", runID, "loops", len(loops), "parallelism", c.opts.Parallelism)

	results := make([]core.LoopResult, len(loops))

	g := new(errgroup.Group)
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	for i, l := range loops {
		g.Go(func() error {
			res, err := l.Run(ctx)
			if err != nil {
				return fmt.Errorf("flow: loop %s: %w", l.ID(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{RunID: runID, Status: StatusFailed}, err
	}

	res := merge(runID, results)
	res.Duration = time.Since(start)

	c.opts.Metrics.RecordFlow(string(res.Status))
	c.opts.Logger.Info("flow.finished",
		"run_id", runID,
		"status", string(res.Status),
		"succeeded", len(res.Succeeded()),
		"loops", len(res.Loops),
		"duration_ms", res.Duration.Milliseconds(),
	)

	if c.opts.Sink != nil {
		if err := c.opts.Sink.Publish(context.WithoutCancel(ctx), res); err != nil {
			c.opts.Logger.Warn("flow.sink.failed", "run_id", runID, "error", err.Error())
		}
	}

	if res.Status == StatusFailed {
		return res, ErrNoLoopSucceeded
	}
	return res, nil
}

// Abandon finishes loops that never ran as Aborted without executing them,
// for runs cancelled before they were scheduled. The sink is not called.
func (c *Coordinator) Abandon(runID string, loops []*agent.Loop, cause error) (Result, error) {
	results := make([]core.LoopResult, 0, len(loops))
	for _, l := range loops {
		l.Cancel(cause)
		if r, ok := l.Result(); ok {
			results = append(results, r)
		}
	}
	res := merge(runID, results)

	c.opts.Metrics.RecordFlow(string(res.Status))
	c.opts.Logger.Info("flow.abandoned", "run_id", runID, "loops", len(loops), "error", cause.Error())
	return res, fmt.Errorf("%w: %w", ErrNoLoopSucceeded, cause)
}

// merge aggregates loop results in submission order.
func merge(runID string, results []core.LoopResult) Result {
	res := Result{
		RunID:   runID,
		Loops:   make([]LoopReport, 0, len(results)),
		Results: results,
	}

	var (
		answers   []string
		succeeded int
	)
	for _, r := range results {
		res.Loops = append(res.Loops, LoopReport{
			LoopID:     r.LoopID,
			GoalID:     r.Goal.ID,
			Goal:       r.Goal.Text,
			Status:     r.Status,
			Answer:     r.Answer,
			Reason:     r.Reason,
			Diagnostic: r.Diagnostic,
			Steps:      len(r.Steps),
		})
		if r.Status == core.StatusDone {
			succeeded++
			answers = append(answers, r.Answer)
		}
	}

	switch {
	case succeeded == 0:
		res.Status = StatusFailed
	case succeeded == len(results):
		res.Status = StatusComplete
	default:
		res.Status = StatusPartial
	}

	if len(results) == 1 {
		res.Answer = strings.Join(answers, "")
		return res
	}
	var b strings.Builder
	for i, r := range results {
		if r.Status != core.StatusDone {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, r.Goal.Text, r.Answer)
	}
	res.Answer = b.String()
	return res
}
