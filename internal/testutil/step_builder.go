package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentloop/core"
)

// StepBuilder provides a fluent helper for constructing steps in tests.
// Example:
//
//	s := NewStepBuilder(1).Tool("navigate", map[string]any{"url": "x"}).Success("ok").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type StepBuilder struct {
	step core.Step
}

// NewStepBuilder creates a builder for a successful no-argument step at index.
func NewStepBuilder(index int) *StepBuilder {
	return &StepBuilder{step: core.Step{
		Index:     index,
		Action:    core.ToolCall{Name: "noop", Arguments: map[string]any{}},
		Outcome:   core.OutcomeSuccess,
		Result:    "ok",
		Attempts:  1,
		Timestamp: time.Unix(int64(index), 0).UTC(),
	}}
}

// Tool sets the action to a tool call (chainable).
func (b *StepBuilder) Tool(name string, args map[string]any) *StepBuilder {
	if args == nil {
		args = map[string]any{}
	}
	b.step.Action = core.ToolCall{Name: name, Arguments: args}
	return b
}

// Final sets the action to a final answer and the outcome to final (chainable).
func (b *StepBuilder) Final(answer string) *StepBuilder {
	b.step.Action = core.FinalAnswer{Content: answer}
	b.step.Outcome = core.OutcomeFinal
	b.step.Result = answer
	b.step.Err = nil
	return b
}

// Success sets a successful result (chainable).
func (b *StepBuilder) Success(result any) *StepBuilder {
	b.step.Outcome = core.OutcomeSuccess
	b.step.Result = result
	b.step.Err = nil
	return b
}

// Fail sets an error derived from err (chainable).
func (b *StepBuilder) Fail(err error) *StepBuilder {
	b.step.Outcome = core.OutcomeFor(err)
	b.step.Result = nil
	b.step.Err = core.NewStepError(err, true)
	return b
}

// FailMessage sets a tool_error with the given message (chainable).
func (b *StepBuilder) FailMessage(msg string) *StepBuilder {
	return b.Fail(fmt.Errorf("%w: %s", core.ErrToolExecution, msg))
}

// Attempts overrides the attempt counter (chainable).
func (b *StepBuilder) Attempts(n int) *StepBuilder { b.step.Attempts = n; return b }

// Build returns the constructed step.
func (b *StepBuilder) Build() core.Step { return b.step }

// Steps builds n successful steps with indices from..from+n-1 invoking tool.
func Steps(from, n int, tool string) []core.Step {
	out := make([]core.Step, 0, n)
	for i := range n {
		out = append(out, NewStepBuilder(from+i).Tool(tool, nil).Build())
	}
	return out
}
