package core

import "fmt"

// Status is the lifecycle position of an agent loop.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusWaitingOnTool Status = "waiting_on_tool"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
	StatusAborted       Status = "aborted"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusIdle: {
		StatusRunning: {},
		StatusAborted: {},
	},
	StatusRunning: {
		StatusWaitingOnTool: {},
		StatusDone:          {},
		StatusFailed:        {},
		StatusAborted:       {},
	},
	StatusWaitingOnTool: {
		StatusRunning: {},
		StatusFailed:  {},
		StatusAborted: {},
	},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusAborted
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidateTransition returns ErrInvalidTransition for a disallowed change.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Termination reasons recorded on aborted or failed loops.
const (
	ReasonFinalAnswer          = "final_answer"
	ReasonBudgetExhausted      = "budget_exhausted"
	ReasonCancelled            = "cancelled"
	ReasonMalformedCeiling     = "malformed_response_ceiling"
	ReasonUnknownToolCeiling   = "unknown_tool_ceiling"
	ReasonRepeatedFailure      = "repeated_failure"
	ReasonSummarizationFailure = "summarization_failure"
)

// AgentState is a point-in-time snapshot of a loop.
type AgentState struct {
	LoopID     string `json:"loop_id"`
	Goal       Goal   `json:"goal"`
	StepCount  int    `json:"step_count"`
	Status     Status `json:"status"`
	Answer     string `json:"answer,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// LoopResult is the terminal report of a loop.
type LoopResult struct {
	LoopID     string `json:"loop_id"`
	Goal       Goal   `json:"goal"`
	Status     Status `json:"status"`
	Answer     string `json:"answer,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Steps      []Step `json:"steps,omitempty"`
	// Err is the terminal cause for Failed and Aborted loops.
	Err error `json:"-"`
}

// Succeeded reports whether the loop reached Done.
func (r LoopResult) Succeeded() bool { return r.Status == StatusDone }
