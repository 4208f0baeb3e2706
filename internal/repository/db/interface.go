package db

import "context"

// Database defines the interface for all interaction log operations.
// This allows for easier testing through mocking and decouples the services from the specific database implementation.
type Database interface {
	// Interactions
	CreateInteraction(ctx context.Context, interaction *Interaction) error
	GetInteractionByInteractionID(ctx context.Context, interactionID string) (*Interaction, error)
	CompleteInteraction(ctx context.Context, id int64, completion Completion) error

	// Conversation history
	NextTurnIndex(ctx context.Context, conversationID string) (int, error)
	GetRecentInteractions(ctx context.Context, conversationID string, limit int) ([]Interaction, error)
	GetCompletedInteractionsAfter(ctx context.Context, conversationID string, turnIndex int) ([]Interaction, error)

	// Socratic prompt
	GetLatestSocraticInteraction(ctx context.Context, conversationID string) (*Interaction, error)
	ClearSocraticPrompt(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}
