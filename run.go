package agentloop

import (
	"context"
	"sync"

	"github.com/hupe1980/agentloop/agent"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/flow"
)

// RunState is the lifecycle position of a run.
type RunState string

const (
	RunPending  RunState = "pending"
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID string            `json:"run_id"`
	State RunState          `json:"state"`
	Loops []core.AgentState `json:"loops"`
	// Outcome is set once the run finished.
	Outcome flow.Status `json:"outcome,omitempty"`
}

// RunHandle observes and controls one run.
type RunHandle struct {
	id     string
	goals  []core.Goal
	loops  []*agent.Loop
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	state  RunState
	result flow.Result
	err    error
}

// ID returns the run identifier.
func (h *RunHandle) ID() string { return h.id }

// Goals returns the sub-goals in submission order.
func (h *RunHandle) Goals() []core.Goal { return append([]core.Goal(nil), h.goals...) }

// Done is closed once the run finished.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Cancel requests cancellation. Loops waiting on a non-cancellable tool
// finish that call first.
func (h *RunHandle) Cancel() { h.cancel() }

// Status returns a snapshot of the run and each of its loops.
func (h *RunHandle) Status() RunStatus {
	h.mu.RLock()
	st := RunStatus{RunID: h.id, State: h.state}
	if h.state == RunFinished {
		st.Outcome = h.result.Status
	}
	h.mu.RUnlock()

	st.Loops = make([]core.AgentState, 0, len(h.loops))
	for _, l := range h.loops {
		st.Loops = append(st.Loops, l.State())
	}
	return st
}

// Poll returns the result without blocking; ok is false while running.
func (h *RunHandle) Poll() (flow.Result, bool, error) {
	select {
	case <-h.done:
	default:
		return flow.Result{}, false, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, true, h.err
}

// Result blocks until the run finished or ctx is done. The error is
// flow.ErrNoLoopSucceeded when no loop reached Done.
func (h *RunHandle) Result(ctx context.Context) (flow.Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return flow.Result{}, ctx.Err()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, h.err
}

func (h *RunHandle) setState(s RunState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *RunHandle) finish(res flow.Result, err error) {
	h.mu.Lock()
	h.state = RunFinished
	h.result = res
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
