// Package tool implements the tool registry and the function tool adapter
// that lets loops invoke structured capabilities (APIs, browser control,
// computations) with schema validated arguments and consistent error handling.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
)

// Tool defines the interface for extending loop capabilities with external functions.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Declare their idempotency class honestly; it controls retries
//   - Be safe for concurrent use, since a registry is shared across loops
type Tool interface {
	core.ToolExecutor

	// Contract returns the registration contract for this tool.
	Contract() core.ToolContract
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap maps the error code onto the core taxonomy so errors.Is works.
func (e *ToolError) Unwrap() error {
	if e.Code == CodeValidation {
		return core.ErrInvalidArguments
	}
	return core.ErrToolExecution
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// AsToolError reports whether err wraps a *ToolError and returns it.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
