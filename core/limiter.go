package core

import (
	"fmt"
	"sync"
)

// StepBudget enforces a maximum number of steps per loop.
type StepBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepBudget creates a budget allowing max steps.
// If max == 0, unlimited steps are allowed.
func NewStepBudget(max int) *StepBudget {
	return &StepBudget{max: max}
}

// Consume reserves one step and returns ErrBudgetExhausted when none is left.
// A failed Consume does not change the count.
func (b *StepBudget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%w: max %d steps", ErrBudgetExhausted, b.max)
	}
	b.count++

	return nil
}

// Count returns the number of consumed steps.
func (b *StepBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many steps are left before hitting the limit.
func (b *StepBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}

// Max returns the configured limit (0 = unlimited).
func (b *StepBudget) Max() int { return b.max }
