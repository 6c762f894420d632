package core

import (
	"encoding/json"
	"fmt"
	"maps"
)

// FinalAnswerTool is the reserved function name a Gateway exposes to the model
// for concluding a run. It never appears in a tool Registry.
const FinalAnswerTool = "final_answer"

// Action is a decision emitted by a Gateway. Concrete action types implement
// the unexported isAction marker enabling a closed set: ToolCall and
// FinalAnswer.
type Action interface {
	isAction()
	// Kind returns a stable label ("tool_call" or "final_answer").
	Kind() string
}

// ToolCall asks the Step Executor to invoke a registered tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // Optional provider correlation id
	Name      string         `json:"name"`         // Tool name as published by the Registry
	Arguments map[string]any `json:"arguments"`    // Decoded JSON arguments
}

// isAction implements the Action interface for ToolCall.
func (ToolCall) isAction() {}

// Kind implements Action.
func (ToolCall) Kind() string { return "tool_call" }

// String renders the call in a compact name(args) form used in prompts and logs.
func (c ToolCall) String() string {
	if len(c.Arguments) == 0 {
		return c.Name + "()"
	}
	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return fmt.Sprintf("%s(%v)", c.Name, c.Arguments)
	}
	return fmt.Sprintf("%s(%s)", c.Name, b)
}

// Clone returns a copy with an independent top-level argument map.
func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Arguments != nil {
		out.Arguments = make(map[string]any, len(c.Arguments))
		maps.Copy(out.Arguments, c.Arguments)
	}
	return out
}

// FinalAnswer concludes the loop with the given content.
type FinalAnswer struct {
	Content string `json:"content"`
}

// isAction implements the Action interface for FinalAnswer.
func (FinalAnswer) isAction() {}

// Kind implements Action.
func (FinalAnswer) Kind() string { return "final_answer" }

// String returns a prompt friendly rendering.
func (a FinalAnswer) String() string { return fmt.Sprintf("%s(%q)", FinalAnswerTool, a.Content) }

// NewToolCall builds a ToolCall with a generated correlation id.
func NewToolCall(name string, args map[string]any) ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: NewID(), Name: name, Arguments: args}
}

// DescribeAction renders any action (nil-safe) for prompts and diagnostics.
func DescribeAction(a Action) string {
	switch v := a.(type) {
	case ToolCall:
		return v.String()
	case FinalAnswer:
		return v.String()
	case nil:
		return "<none>"
	default:
		return fmt.Sprintf("%v", v)
	}
}
