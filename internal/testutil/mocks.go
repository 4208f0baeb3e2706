package testutil

import (
	"context"
	"errors"
	"sync"

	"learning-agent/internal/app"
	"learning-agent/internal/config"
	"learning-agent/internal/repository/db"
	"learning-agent/internal/service/llm"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// Interaction mocks
	CreateInteractionFunc             func(ctx context.Context, interaction *db.Interaction) error
	GetInteractionByInteractionIDFunc func(ctx context.Context, interactionID string) (*db.Interaction, error)
	CompleteInteractionFunc           func(ctx context.Context, id int64, completion db.Completion) error

	// History mocks
	NextTurnIndexFunc                 func(ctx context.Context, conversationID string) (int, error)
	GetRecentInteractionsFunc         func(ctx context.Context, conversationID string, limit int) ([]db.Interaction, error)
	GetCompletedInteractionsAfterFunc func(ctx context.Context, conversationID string, turnIndex int) ([]db.Interaction, error)

	// Socratic mocks
	GetLatestSocraticInteractionFunc func(ctx context.Context, conversationID string) (*db.Interaction, error)
	ClearSocraticPromptFunc          func(ctx context.Context, id int64) error

	PingFunc func(ctx context.Context) error
}

var _ db.Database = (*MockDatabase)(nil)

// Interaction methods
func (m *MockDatabase) CreateInteraction(ctx context.Context, interaction *db.Interaction) error {
	if m.CreateInteractionFunc != nil {
		return m.CreateInteractionFunc(ctx, interaction)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) GetInteractionByInteractionID(ctx context.Context, interactionID string) (*db.Interaction, error) {
	if m.GetInteractionByInteractionIDFunc != nil {
		return m.GetInteractionByInteractionIDFunc(ctx, interactionID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) CompleteInteraction(ctx context.Context, id int64, completion db.Completion) error {
	if m.CompleteInteractionFunc != nil {
		return m.CompleteInteractionFunc(ctx, id, completion)
	}
	return errors.New("not implemented")
}

// History methods
func (m *MockDatabase) NextTurnIndex(ctx context.Context, conversationID string) (int, error) {
	if m.NextTurnIndexFunc != nil {
		return m.NextTurnIndexFunc(ctx, conversationID)
	}
	return 0, errors.New("not implemented")
}

func (m *MockDatabase) GetRecentInteractions(ctx context.Context, conversationID string, limit int) ([]db.Interaction, error) {
	if m.GetRecentInteractionsFunc != nil {
		return m.GetRecentInteractionsFunc(ctx, conversationID, limit)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetCompletedInteractionsAfter(ctx context.Context, conversationID string, turnIndex int) ([]db.Interaction, error) {
	if m.GetCompletedInteractionsAfterFunc != nil {
		return m.GetCompletedInteractionsAfterFunc(ctx, conversationID, turnIndex)
	}
	return nil, errors.New("not implemented")
}

// Socratic methods
func (m *MockDatabase) GetLatestSocraticInteraction(ctx context.Context, conversationID string) (*db.Interaction, error) {
	if m.GetLatestSocraticInteractionFunc != nil {
		return m.GetLatestSocraticInteractionFunc(ctx, conversationID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) ClearSocraticPrompt(ctx context.Context, id int64) error {
	if m.ClearSocraticPromptFunc != nil {
		return m.ClearSocraticPromptFunc(ctx, id)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockDatabase) Close() error {
	return nil
}

// LLMCall records one ChatWithHistory invocation
type LLMCall struct {
	Messages []llm.Message
	Options  llm.ChatOptions
}

// MockLLMProvider is a mock implementation of llm.LLMProvider that records its calls
type MockLLMProvider struct {
	ChatWithHistoryFunc func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error)
	DefaultModel        string

	mu    sync.Mutex
	calls []LLMCall
}

var _ llm.LLMProvider = (*MockLLMProvider)(nil)

func (m *MockLLMProvider) ChatWithHistory(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, LLMCall{Messages: append([]llm.Message(nil), messages...), Options: opts})
	m.mu.Unlock()
	if m.ChatWithHistoryFunc != nil {
		return m.ChatWithHistoryFunc(ctx, messages, opts)
	}
	return "", errors.New("not implemented")
}

func (m *MockLLMProvider) GetDefaultModel() string {
	if m.DefaultModel != "" {
		return m.DefaultModel
	}
	return "mock/model"
}

// Calls returns every recorded call in order
func (m *MockLLMProvider) Calls() []LLMCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LLMCall(nil), m.calls...)
}

// NewMockConfig creates a test configuration with the embedded prompt catalog
func NewMockConfig(database db.Database) *app.Config {
	prompts, err := config.LoadPromptCatalog("")
	if err != nil {
		panic(err)
	}
	return &app.Config{
		DB: database,
		AppConfig: &config.AppConfig{
			Server: config.ServerConfig{Port: "8080"},
			LLM:    config.LLMConfig{Model: "mock/model"},
			Tutor: config.TutorConfig{
				HistoryTurns:        5,
				SocraticExpiryTurns: 3,
				SocraticClearAfter:  2,
				AnswerStoreLimit:    500,
			},
			Prompts: prompts,
		},
	}
}
