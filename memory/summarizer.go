package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// ExtractiveSummarizer is the deterministic default summarizer. It counts
// outcomes per tool and keeps the last observation, folding in the previous
// record's text.
type ExtractiveSummarizer struct {
	// MaxObservation bounds the quoted last observation (default 240 runes).
	MaxObservation int
}

var _ core.Summarizer = ExtractiveSummarizer{}

// Summarize implements core.Summarizer.
func (e ExtractiveSummarizer) Summarize(_ context.Context, in core.SummaryInput) (string, error) {
	if len(in.Steps) == 0 {
		if in.Previous != nil {
			return in.Previous.Text, nil
		}
		return "", nil
	}

	limit := e.MaxObservation
	if limit <= 0 {
		limit = 240
	}

	var tools []string
	perTool := map[string][2]int{}
	ok, failed := 0, 0
	for _, st := range in.Steps {
		name := st.ToolName()
		if name == "" {
			name = st.Action.Kind()
		}
		if _, seen := perTool[name]; !seen {
			tools = append(tools, name)
		}
		c := perTool[name]
		if st.Failed() {
			c[1]++
			failed++
		} else {
			c[0]++
			ok++
		}
		perTool[name] = c
	}

	var b strings.Builder
	if in.Previous != nil && in.Previous.Text != "" {
		b.WriteString(in.Previous.Text)
		b.WriteString("\n")
	}
	first, last := in.Steps[0].Index, in.Steps[len(in.Steps)-1].Index
	fmt.Fprintf(&b, "Steps %d-%d: %d actions, %d succeeded, %d failed.", first, last, len(in.Steps), ok, failed)
	parts := make([]string, 0, len(tools))
	for _, name := range tools {
		c := perTool[name]
		parts = append(parts, fmt.Sprintf("%s x%d (%d failed)", name, c[0]+c[1], c[1]))
	}
	fmt.Fprintf(&b, " Used: %s.", strings.Join(parts, ", "))

	lastStep := in.Steps[len(in.Steps)-1]
	if obs := lastStep.Observation(); obs != "" {
		r := []rune(strings.Join(strings.Fields(obs), " "))
		if len(r) > limit {
			r = append(r[:limit], '…')
		}
		fmt.Fprintf(&b, " Last observation: %s", string(r))
	}
	return b.String(), nil
}
