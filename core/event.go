package core

import "time"

// EventType identifies what an Event reports.
type EventType string

const (
	// EventStatusChanged is emitted on every loop status transition.
	EventStatusChanged EventType = "status_changed"
	// EventStepRecorded is emitted after a step was appended to memory.
	EventStepRecorded EventType = "step_recorded"
	// EventSummarized is emitted after memory collapsed steps into a record.
	EventSummarized EventType = "summarized"
)

// Event is a loop notification delivered to observers. After emission it
// should be treated as immutable. Step is set for step events, From/To for
// status changes and Record for summarizations.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	LoopID    string        `json:"loop_id"`
	GoalID    string        `json:"goal_id"`
	From      Status        `json:"from,omitempty"`
	To        Status        `json:"to,omitempty"`
	Step      *Step         `json:"step,omitempty"`
	Record    *MemoryRecord `json:"record,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewEvent creates a bare event of the given type bound to a loop.
func NewEvent(typ EventType, loopID, goalID string) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		LoopID:    loopID,
		GoalID:    goalID,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusEvent records a transition from -> to.
func NewStatusEvent(loopID, goalID string, from, to Status, reason string) Event {
	e := NewEvent(EventStatusChanged, loopID, goalID)
	e.From, e.To, e.Reason = from, to, reason
	return e
}

// NewStepEvent records an appended step.
func NewStepEvent(loopID, goalID string, step Step) Event {
	e := NewEvent(EventStepRecorded, loopID, goalID)
	e.Step = &step
	return e
}

// NewSummaryEvent records a summarization.
func NewSummaryEvent(loopID, goalID string, rec *MemoryRecord) Event {
	e := NewEvent(EventSummarized, loopID, goalID)
	e.Record = rec
	return e
}

// IsTerminal reports whether the event moved the loop into a terminal status.
func (e Event) IsTerminal() bool {
	return e.Type == EventStatusChanged && e.To.Terminal()
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }

// Observer receives loop events. Implementations must be safe for concurrent
// use when shared across loops.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
