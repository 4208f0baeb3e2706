// Package persistence stores conversations between sessions.
package persistence

import (
	"errors"
	"time"

	"learning-agent/internal/domain"
)

// ErrClosed is returned by adapters used after Close
var ErrClosed = errors.New("persistence: adapter is closed")

// State is everything the store needs to restore a session
type State struct {
	Conversations map[string]domain.Conversation
	ActiveID      string
}

// NewState returns an empty state
func NewState() *State {
	return &State{Conversations: map[string]domain.Conversation{}}
}

// Adapter reads and writes conversation state.
// Save replaces the whole snapshot; the granular methods write one conversation (or the
// active pointer) at a time so a failed write cannot touch any other conversation.
type Adapter interface {
	Load() (*State, error)
	Save(state *State) error
	SaveConversation(conv domain.Conversation) error
	DeleteConversation(id string) error
	SaveActive(id string) error
	Close() error
}

// record is the stored value of one conversation
type record struct {
	Turns     []domain.Turn `json:"turns"`
	Title     string        `json:"title"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func toRecord(conv domain.Conversation) record {
	return record{Turns: conv.Turns, Title: conv.Title, UpdatedAt: conv.UpdatedAt}
}

func (r record) conversation(id string) domain.Conversation {
	turns := r.Turns
	for i := range turns {
		turns[i].ConversationID = id
	}
	return domain.Conversation{ID: id, Title: r.Title, Turns: turns, UpdatedAt: r.UpdatedAt}
}
