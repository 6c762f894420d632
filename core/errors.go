package core

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrUnknownTool is returned when resolving a name the registry never published.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrGatewayUnavailable marks a transient gateway failure (retryable).
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrGatewayMalformedResponse marks a gateway reply that cannot be parsed into an Action.
	ErrGatewayMalformedResponse = errors.New("gateway malformed response")
	// ErrInvalidArguments is returned when tool arguments do not match the input schema.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrToolExecution wraps an error returned by a tool executor.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrToolTimeout is returned when a tool does not finish within its timeout.
	ErrToolTimeout = errors.New("tool timed out")
	// ErrMemoryCapacity is returned when the raw step buffer is full.
	ErrMemoryCapacity = errors.New("memory capacity exhausted")
	// ErrBudgetExhausted signals the loop ran out of steps. It is terminal but not a failure.
	ErrBudgetExhausted = errors.New("step budget exhausted")
	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid agent status transition")
)

// ErrorKind classifies errors of the taxonomy for recording and metrics.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindGatewayUnavailable ErrorKind = "gateway_unavailable"
	ErrorKindGatewayMalformed   ErrorKind = "gateway_malformed_response"
	ErrorKindInvalidArguments   ErrorKind = "invalid_arguments"
	ErrorKindUnknownTool        ErrorKind = "unknown_tool"
	ErrorKindToolExecution      ErrorKind = "tool_error"
	ErrorKindToolTimeout        ErrorKind = "timeout"
	ErrorKindMemoryCapacity     ErrorKind = "memory_capacity"
	ErrorKindBudgetExhausted    ErrorKind = "budget_exhausted"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindInternal           ErrorKind = "internal"
)

// KindOf maps an error onto the taxonomy. Unrecognized errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrGatewayUnavailable):
		return ErrorKindGatewayUnavailable
	case errors.Is(err, ErrGatewayMalformedResponse):
		return ErrorKindGatewayMalformed
	case errors.Is(err, ErrInvalidArguments):
		return ErrorKindInvalidArguments
	case errors.Is(err, ErrUnknownTool):
		return ErrorKindUnknownTool
	case errors.Is(err, ErrToolTimeout):
		return ErrorKindToolTimeout
	case errors.Is(err, ErrToolExecution):
		return ErrorKindToolExecution
	case errors.Is(err, ErrMemoryCapacity):
		return ErrorKindMemoryCapacity
	case errors.Is(err, ErrBudgetExhausted):
		return ErrorKindBudgetExhausted
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	default:
		return ErrorKindInternal
	}
}

// StepError is the serializable error half of a Step outcome.
type StepError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// Error implements error.
func (e *StepError) Error() string {
	if e.Kind == ErrorKindNone {
		return e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

// NewStepError converts err into a StepError (nil for nil).
func NewStepError(err error, recoverable bool) *StepError {
	if err == nil {
		return nil
	}
	return &StepError{Kind: KindOf(err), Message: err.Error(), Recoverable: recoverable}
}
