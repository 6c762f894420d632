package core

import (
	"strings"
	"testing"
)

func TestMemoryWindow_Render(t *testing.T) {
	w := MemoryWindow{
		Summary: &MemoryRecord{
			FromIndex: 1,
			ToIndex:   2,
			Text:      "visited example.com",
			Outcomes: []StepDigest{
				{Index: 1, Tool: "navigate", Outcome: OutcomeSuccess, Result: "ok"},
				{Index: 2, Tool: "act", Outcome: OutcomeToolError, Error: "no such element"},
			},
			UnresolvedErrors: []StepDigest{{Index: 2, Tool: "act", Outcome: OutcomeToolError, Error: "no such element"}},
		},
		Steps: []Step{{
			Index:    3,
			Action:   ToolCall{Name: "read_content", Arguments: map[string]any{}},
			Outcome:  OutcomeSuccess,
			Result:   "Example Domain",
			Attempts: 1,
		}},
	}
	out := w.Render()
	for _, want := range []string{
		"[summary of steps 1-2]",
		"visited example.com",
		"#1 navigate success: ok",
		"unresolved errors:",
		"#2 act tool_error: no such element",
		"[step 3] action: read_content()",
		"observation: Example Domain",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered window missing %q:\n%s", want, out)
		}
	}
	if w.Empty() {
		t.Fatalf("window should not be empty")
	}
	if !(MemoryWindow{}).Empty() {
		t.Fatalf("zero window should be empty")
	}
}

func TestStep_SignatureAndDigest(t *testing.T) {
	ok := Step{Index: 1, Action: ToolCall{Name: "navigate"}, Outcome: OutcomeSuccess, Result: "fine"}
	if ok.Signature() != "" {
		t.Fatalf("successful step must have empty signature")
	}
	failed := Step{
		Index:   2,
		Action:  ToolCall{Name: "act"},
		Outcome: OutcomeToolError,
		Err:     &StepError{Kind: ErrorKindToolExecution, Message: "boom"},
	}
	if failed.Signature() != "act|tool_error|boom" {
		t.Fatalf("unexpected signature %q", failed.Signature())
	}
	d := failed.Digest()
	if d.Tool != "act" || d.Error != "boom" || d.Result != "" {
		t.Fatalf("unexpected digest %+v", d)
	}
}

func TestArchiveStep(t *testing.T) {
	s := Step{Index: 4, Action: NewToolCall("navigate", map[string]any{"url": "https://example.com"}), Outcome: OutcomeSuccess, Result: "loaded", Attempts: 2}
	a := ArchiveStep("loop", s)
	if a.LoopID != "loop" || a.Tool != "navigate" || a.Result != "loaded" || a.Attempts != 2 {
		t.Fatalf("unexpected archived step %+v", a)
	}
	if !strings.HasPrefix(a.Action, "navigate(") {
		t.Fatalf("unexpected action rendering %q", a.Action)
	}
}
