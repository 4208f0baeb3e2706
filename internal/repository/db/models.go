package db

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Interaction is one logged turn of a conversation.
// Mode, Intent and Topic are empty strings for turns answered with the enhancer off.
type Interaction struct {
	ID                   int64
	Timestamp            time.Time
	InteractionID        *string
	ConversationID       string
	TurnIndex            int
	OriginalPrompt       string
	Mode                 *string
	Intent               *string
	Topic                *string
	RewrittenPrompt      *string
	ChosenVersion        *string
	FinalPrompt          *string
	FinalAnswer          *string
	SocraticSystemPrompt *string
}

// Enhanced reports whether the turn went through the enhancer
func (i Interaction) Enhanced() bool {
	return i.Mode != nil && *i.Mode != ""
}

// Completed reports whether the turn has an answer
func (i Interaction) Completed() bool {
	return i.FinalAnswer != nil && *i.FinalAnswer != ""
}

// Completion is the answer-side update applied to a logged interaction
type Completion struct {
	FinalPrompt   string
	FinalAnswer   string
	ChosenVersion *string
	// SocraticSystemPrompt is stored only when non-nil
	SocraticSystemPrompt *string
}
