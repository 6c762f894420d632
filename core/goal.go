package core

import (
	"maps"

	"github.com/google/uuid"
)

// Goal is the natural-language objective of a loop. Immutable after creation.
type Goal struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewGoal creates a goal with a fresh identifier.
func NewGoal(text string, metadata map[string]string) Goal {
	var md map[string]string
	if len(metadata) > 0 {
		md = maps.Clone(metadata)
	}
	return Goal{ID: NewID(), Text: text, Metadata: md}
}

// NewID generates a new unique identifier for goals, loops, runs and calls.
func NewID() string { return uuid.NewString() }
