package app

import (
	"learning-agent/internal/config"
	"learning-agent/internal/repository/db"
	"learning-agent/internal/service/llm"
)

// Config holds all backend dependencies and configuration
type Config struct {
	// Database interface for the interaction log
	DB db.Database
	// LLM provider used for classification, rewriting and answers
	LLM llm.LLMProvider
	// Centralized application configuration
	AppConfig *config.AppConfig
}

// NewConfig creates a new application configuration
func NewConfig(database db.Database, provider llm.LLMProvider, appConfig *config.AppConfig) *Config {
	return &Config{
		DB:        database,
		LLM:       provider,
		AppConfig: appConfig,
	}
}

// Prompts returns the prompt catalog
func (c *Config) Prompts() *config.PromptCatalog {
	return c.AppConfig.Prompts
}
