package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// DefaultSummaryPrompt instructs the model how to condense collapsed steps.
const DefaultSummaryPrompt = `Condense the agent history below into a short paragraph. Keep facts learned, pages or resources visited, and errors that are still unresolved. Do not invent information.`

// Summarizer is an LLM-backed core.Summarizer.
type Summarizer struct {
	model  Model
	prompt string
}

var _ core.Summarizer = (*Summarizer)(nil)

// NewSummarizer creates a Summarizer. An empty prompt selects DefaultSummaryPrompt.
func NewSummarizer(m Model, prompt string) *Summarizer {
	if prompt == "" {
		prompt = DefaultSummaryPrompt
	}
	return &Summarizer{model: m, prompt: prompt}
}

// Summarize implements core.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, in core.SummaryInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", in.Goal.Text)
	if in.Previous != nil {
		b.WriteString(in.Previous.Render())
		b.WriteString("\n")
	}
	for _, st := range in.Steps {
		b.WriteString(st.Render())
	}

	resp, err := Collect(ctx, s.model, Request{
		Instructions: s.prompt,
		Messages:     []Message{{Role: RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize steps: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("summarize steps: empty summary")
	}
	return text, nil
}
