package core

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusIdle, StatusAborted, true},
		{StatusIdle, StatusDone, false},
		{StatusRunning, StatusWaitingOnTool, true},
		{StatusRunning, StatusDone, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusAborted, true},
		{StatusWaitingOnTool, StatusRunning, true},
		{StatusWaitingOnTool, StatusDone, false},
		{StatusDone, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusAborted, StatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StatusIdle, StatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateTransition(StatusDone, StatusRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusDone, StatusFailed, StatusAborted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusIdle, StatusRunning, StatusWaitingOnTool} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStepBudget(t *testing.T) {
	b := NewStepBudget(2)
	if err := b.Consume(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Consume(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Consume(); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if b.Count() != 2 || b.Remaining() != 0 {
		t.Fatalf("unexpected count=%d remaining=%d", b.Count(), b.Remaining())
	}

	unlimited := NewStepBudget(0)
	for range 100 {
		if err := unlimited.Consume(); err != nil {
			t.Fatalf("unlimited budget returned %v", err)
		}
	}
	if unlimited.Remaining() != -1 {
		t.Fatalf("expected -1 remaining for unlimited budget")
	}
}
