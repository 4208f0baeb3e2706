package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
)

// MaxTitleLength is the rune budget of a conversation title
const MaxTitleLength = 60

// PlaceholderPrefix marks conversation ids issued locally before the backend assigns one
const PlaceholderPrefix = "draft-"

// Conversation is an ordered list of turns under a stable id
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the listing view of a conversation
type Summary struct {
	ID        string
	Title     string
	TurnCount int
	UpdatedAt time.Time
}

// NewPlaceholderID returns a provisional conversation id
func NewPlaceholderID() string {
	return PlaceholderPrefix + shortuuid.New()
}

// IsPlaceholderID reports whether id was issued locally
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// TitleFromPrompt derives a conversation title from the first prompt
func TitleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:MaxTitleLength-3])) + "..."
}

// CompletedTurns returns how many turns reached the done stage
func (c Conversation) CompletedTurns() int {
	n := 0
	for _, t := range c.Turns {
		if t.Stage == StageDone {
			n++
		}
	}
	return n
}

// Persistable returns a copy holding only completed turns
func (c Conversation) Persistable() Conversation {
	out := Conversation{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt}
	for _, t := range c.Turns {
		if t.Stage == StageDone {
			out.Turns = append(out.Turns, t.Clone())
		}
	}
	return out
}

// FindTurn returns the index of the turn with the given id, or -1
func (c Conversation) FindTurn(turnID string) int {
	for i, t := range c.Turns {
		if t.ID == turnID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy
func (c Conversation) Clone() Conversation {
	out := c
	out.Turns = make([]Turn, len(c.Turns))
	for i, t := range c.Turns {
		out.Turns[i] = t.Clone()
	}
	return out
}

// Summary returns the listing view
func (c Conversation) Summary() Summary {
	return Summary{ID: c.ID, Title: c.Title, TurnCount: len(c.Turns), UpdatedAt: c.UpdatedAt}
}
