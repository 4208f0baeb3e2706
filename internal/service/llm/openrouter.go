package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"learning-agent/internal/config"
	"learning-agent/internal/logger"

	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("OPENROUTER_API_KEY not configured")

// OpenRouterProvider implements LLMProvider using direct OpenRouter API calls
type OpenRouterProvider struct {
	config        *config.LLMConfig
	defaultSystem string
	client        *http.Client
}

// NewOpenRouterProvider creates a new OpenRouter provider with config.
// defaultSystemPrompt is used whenever a call does not bring its own system prompt.
func NewOpenRouterProvider(llmConfig *config.LLMConfig, defaultSystemPrompt string) *OpenRouterProvider {
	return &OpenRouterProvider{
		config:        llmConfig,
		defaultSystem: defaultSystemPrompt,
		client:        &http.Client{Timeout: llmConfig.Timeout},
	}
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *ResponseUsage `json:"usage,omitempty"`
}

func (p *OpenRouterProvider) getModel(override string) string {
	if override != "" {
		return override
	}
	return p.config.Model
}

func (p *OpenRouterProvider) buildMessages(messages []Message, systemPrompt string) []Message {
	if systemPrompt == "" {
		systemPrompt = p.defaultSystem
	}
	logger.Log.WithField("prompt_length", len(systemPrompt)).Debug("Using system prompt")
	out := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, messages...)
}

// ChatWithHistory sends a chat request with conversation history and returns the full response
func (p *OpenRouterProvider) ChatWithHistory(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if p.config.OpenRouterAPIKey == "" {
		return "", ErrNotConfigured
	}

	model := p.getModel(opts.Model)
	tempStr := "nil"
	if opts.Temperature != nil {
		tempStr = fmt.Sprintf("%.2f", *opts.Temperature)
	}
	logger.Log.WithFields(logrus.Fields{
		"model":         model,
		"json_mode":     opts.JSONMode,
		"temperature":   tempStr,
		"message_count": len(messages),
	}).Info("Calling OpenRouter API")

	reqBody := ChatRequest{
		Model:       model,
		Messages:    p.buildMessages(messages, opts.SystemPrompt),
		Temperature: opts.Temperature,
	}
	if p.config.TopP > 0 {
		topP := p.config.TopP
		reqBody.TopP = &topP
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.OpenRouterAPIKey)
	req.Header.Set("HTTP-Referer", "http://localhost:3000")
	req.Header.Set("X-Title", "Learning Agent")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	logger.Log.WithField("response_length", len(body)).Debug("Received raw response")

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from API")
	}

	if chatResp.Usage != nil {
		logger.Log.WithFields(logrus.Fields{
			"generation_id":     chatResp.ID,
			"prompt_tokens":     chatResp.Usage.PromptTokens,
			"completion_tokens": chatResp.Usage.CompletionTokens,
			"total_tokens":      chatResp.Usage.TotalTokens,
		}).Debug("Captured usage data")
	}

	content := chatResp.Choices[0].Message.Content
	logger.Log.WithField("content_length", len(content)).Debug("Extracted content from response")
	return content, nil
}

// GetDefaultModel returns the default model for OpenRouter provider
func (p *OpenRouterProvider) GetDefaultModel() string {
	return p.config.Model
}
