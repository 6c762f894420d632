package core

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how a Step ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeToolError          Outcome = "tool_error"
	OutcomeTimeout            Outcome = "timeout"
	OutcomeInvalidArguments   Outcome = "invalid_arguments"
	OutcomeUnknownTool        Outcome = "unknown_tool"
	OutcomeGatewayUnavailable Outcome = "gateway_unavailable"
	OutcomeGatewayMalformed   Outcome = "gateway_malformed_response"
	OutcomeFinal              Outcome = "final"
)

// Failed reports whether the outcome represents an error.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess && o != OutcomeFinal
}

// OutcomeFor maps an error onto the step outcome recorded for it.
func OutcomeFor(err error) Outcome {
	switch KindOf(err) {
	case ErrorKindNone:
		return OutcomeSuccess
	case ErrorKindToolTimeout:
		return OutcomeTimeout
	case ErrorKindInvalidArguments:
		return OutcomeInvalidArguments
	case ErrorKindUnknownTool:
		return OutcomeUnknownTool
	case ErrorKindGatewayUnavailable:
		return OutcomeGatewayUnavailable
	case ErrorKindGatewayMalformed:
		return OutcomeGatewayMalformed
	default:
		return OutcomeToolError
	}
}

// Step is one reason -> act -> observe cycle. Exactly one of Result and Err is
// set. Steps are immutable once appended to memory.
type Step struct {
	Index     int           `json:"index"`
	Context   string        `json:"context,omitempty"`
	Action    Action        `json:"-"`
	Outcome   Outcome       `json:"outcome"`
	Result    any           `json:"result,omitempty"`
	Err       *StepError    `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Failed reports whether the step carries an error.
func (s Step) Failed() bool { return s.Err != nil }

// ToolName returns the invoked tool name or "" when the action was not a tool call.
func (s Step) ToolName() string {
	if c, ok := s.Action.(ToolCall); ok {
		return c.Name
	}
	return ""
}

// Signature identifies a failure for repetition detection: tool name, outcome
// and error message. Successful steps have an empty signature.
func (s Step) Signature() string {
	if s.Err == nil {
		return ""
	}
	return s.ToolName() + "|" + string(s.Outcome) + "|" + s.Err.Message
}

// Observation renders the step result or error as text for prompts.
func (s Step) Observation() string {
	if s.Err != nil {
		return "error (" + string(s.Err.Kind) + "): " + s.Err.Message
	}
	switch v := s.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Render produces the canonical text form of a step used inside a MemoryWindow.
func (s Step) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[step %d] action: %s\n", s.Index, DescribeAction(s.Action))
	fmt.Fprintf(&b, "outcome: %s", s.Outcome)
	if s.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", s.Attempts)
	}
	b.WriteString("\n")
	if obs := s.Observation(); obs != "" {
		b.WriteString("observation: ")
		b.WriteString(obs)
		b.WriteString("\n")
	}
	return b.String()
}

// Digest returns the compact structural summary of the step kept by memory records.
func (s Step) Digest() StepDigest {
	d := StepDigest{
		Index:   s.Index,
		Tool:    s.ToolName(),
		Outcome: s.Outcome,
	}
	if s.Err != nil {
		d.Error = s.Err.Message
	} else {
		d.Result = truncate(s.Observation(), digestResultLimit)
	}
	return d
}

// StepDigest is the structural remainder of a collapsed step.
type StepDigest struct {
	Index   int     `json:"index"`
	Tool    string  `json:"tool,omitempty"`
	Outcome Outcome `json:"outcome"`
	Result  string  `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// String renders a one-line digest.
func (d StepDigest) String() string {
	name := d.Tool
	if name == "" {
		name = "-"
	}
	if d.Error != "" {
		return fmt.Sprintf("#%d %s %s: %s", d.Index, name, d.Outcome, d.Error)
	}
	if d.Result != "" {
		return fmt.Sprintf("#%d %s %s: %s", d.Index, name, d.Outcome, d.Result)
	}
	return fmt.Sprintf("#%d %s %s", d.Index, name, d.Outcome)
}

const digestResultLimit = 200

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
