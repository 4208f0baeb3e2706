package llm

import "context"

// Message is one chat message sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions tune a single completion
type ChatOptions struct {
	// SystemPrompt replaces the provider default when set
	SystemPrompt string
	Temperature  *float64
	// JSONMode asks the model for a single JSON object
	JSONMode bool
	// Model overrides the configured model
	Model string
}

// LLMProvider defines the interface for chat completion providers
type LLMProvider interface {
	// ChatWithHistory sends the conversation and returns the assistant reply
	ChatWithHistory(ctx context.Context, messages []Message, opts ChatOptions) (string, error)

	// GetDefaultModel returns the default model for this provider
	GetDefaultModel() string
}

// Temperature is a convenience for ChatOptions.Temperature
func Temperature(t float64) *float64 {
	return &t
}
