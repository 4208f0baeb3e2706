package workflow

import "learning-agent/internal/domain"

// EventKind names a state change of a turn
type EventKind string

const (
	EventSubmitted    EventKind = "submitted"
	EventRewritten    EventKind = "rewritten"
	EventRegenerating EventKind = "regenerating"
	EventAnswering    EventKind = "answering"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventCancelled    EventKind = "cancelled"
)

// Event carries a snapshot of the turn after the change.
// Pending is true while the turn is held outside the conversation, waiting for a prompt choice.
type Event struct {
	Kind    EventKind
	Turn    domain.Turn
	Pending bool
	Err     error
}

// Terminal reports whether the turn reached its final state
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed || e.Kind == EventCancelled
}
