package core

import (
	"context"
	"fmt"
	"strings"
)

// MemoryRecord stands in for a range of collapsed steps.
type MemoryRecord struct {
	FromIndex int    `json:"from_index"`
	ToIndex   int    `json:"to_index"`
	Text      string `json:"text"`
	// Outcomes keeps one digest per collapsed step in index order.
	Outcomes []StepDigest `json:"outcomes"`
	// UnresolvedErrors lists failed steps with no later success of the same tool.
	UnresolvedErrors []StepDigest `json:"unresolved_errors,omitempty"`
	// Generation counts how many summarizations were folded into this record.
	Generation int `json:"generation"`
}

// Covers reports whether the record stands in for the given step index.
func (r *MemoryRecord) Covers(index int) bool {
	return r != nil && index >= r.FromIndex && index <= r.ToIndex
}

// Render produces the canonical text of the record.
func (r *MemoryRecord) Render() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[summary of steps %d-%d]\n", r.FromIndex, r.ToIndex)
	if r.Text != "" {
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	if len(r.Outcomes) > 0 {
		b.WriteString("tool outcomes:\n")
		for _, d := range r.Outcomes {
			b.WriteString("- ")
			b.WriteString(d.String())
			b.WriteString("\n")
		}
	}
	if len(r.UnresolvedErrors) > 0 {
		b.WriteString("unresolved errors:\n")
		for _, d := range r.UnresolvedErrors {
			b.WriteString("- ")
			b.WriteString(d.String())
			b.WriteString("\n")
		}
	}
	return b.String()
}

// MemoryWindow is the context handed to the gateway: an optional summary plus
// the most recent raw steps.
type MemoryWindow struct {
	Summary *MemoryRecord `json:"summary,omitempty"`
	Steps   []Step        `json:"steps"`
}

// Render is the single serialization used for both context-size accounting
// and gateway prompts.
func (w MemoryWindow) Render() string {
	var b strings.Builder
	if w.Summary != nil {
		b.WriteString(w.Summary.Render())
		b.WriteString("\n")
	}
	for i, s := range w.Steps {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Render())
	}
	return b.String()
}

// Empty reports whether the window has neither a summary nor steps.
func (w MemoryWindow) Empty() bool { return w.Summary == nil && len(w.Steps) == 0 }

// SummaryInput carries everything a Summarizer needs to produce record text.
type SummaryInput struct {
	Goal     Goal
	Previous *MemoryRecord
	Steps    []Step
}

// Summarizer produces the narrative text of a MemoryRecord. Structural
// fields (outcomes, unresolved errors) are filled in by the memory store.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, in SummaryInput) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	return f(ctx, in)
}

// ArchivedStep is the persisted form of a collapsed step.
type ArchivedStep struct {
	LoopID    string     `json:"loop_id"`
	Index     int        `json:"index"`
	Action    string     `json:"action"`
	Tool      string     `json:"tool,omitempty"`
	Outcome   Outcome    `json:"outcome"`
	Result    string     `json:"result,omitempty"`
	Err       *StepError `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	Timestamp int64      `json:"timestamp"`
}

// ArchiveStep converts a step into its persisted form.
func ArchiveStep(loopID string, s Step) ArchivedStep {
	a := ArchivedStep{
		LoopID:    loopID,
		Index:     s.Index,
		Action:    DescribeAction(s.Action),
		Tool:      s.ToolName(),
		Outcome:   s.Outcome,
		Err:       s.Err,
		Attempts:  s.Attempts,
		Timestamp: s.Timestamp.UnixNano(),
	}
	if s.Err == nil {
		a.Result = s.Observation()
	}
	return a
}

// Archive keeps steps that were collapsed out of the live window.
type Archive interface {
	Store(ctx context.Context, loopID string, steps []ArchivedStep) error
	List(ctx context.Context, loopID string) ([]ArchivedStep, error)
	Search(ctx context.Context, loopID, query string, limit int) ([]SearchResult, error)
	Close() error
}
