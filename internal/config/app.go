package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"learning-agent/internal/logger"

	"github.com/sirupsen/logrus"
)

// AppConfig holds all backend configuration
type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Auth     AuthConfig
	Tutor    TutorConfig
	Prompts  *PromptCatalog
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	OpenRouterAPIKey string
	BaseURL          string
	Model            string
	Timeout          time.Duration
	TopP             float64
}

// AuthConfig holds service token configuration. An empty secret disables authentication.
type AuthConfig struct {
	SharedSecret    string
	TokenExpiration time.Duration
}

// TutorConfig holds conversation memory and Socratic prompt lifecycle settings
type TutorConfig struct {
	HistoryTurns        int
	SocraticExpiryTurns int
	SocraticClearAfter  int
	AnswerStoreLimit    int
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// LoadConfig loads and validates backend configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:            getEnvOrDefault("SERVER_PORT", "8080"),
		CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	config.Database = DatabaseConfig{
		Driver:   getEnvOrDefault("DB_DRIVER", DriverPostgres),
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "learning_agent"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	if config.Database.Driver != DriverPostgres && config.Database.Driver != DriverMemory {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, config.Database.Driver)
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("OPENROUTER_API_KEY environment variable not set")
	}
	config.LLM = LLMConfig{
		OpenRouterAPIKey: apiKey,
		BaseURL:          getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Model:            getEnvOrDefault("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		Timeout:          getEnvAsDuration("OPENROUTER_TIMEOUT", 90*time.Second),
		TopP:             getEnvAsFloat("OPENROUTER_TOP_P", 0.9),
	}

	secret := os.Getenv("AGENT_SHARED_SECRET")
	if secret == "" {
		logger.Log.Warn("AGENT_SHARED_SECRET not set, service token authentication is disabled")
	} else if len(secret) < 32 {
		return nil, fmt.Errorf("AGENT_SHARED_SECRET must be at least 32 characters (current length: %d)", len(secret))
	}
	config.Auth = AuthConfig{
		SharedSecret:    secret,
		TokenExpiration: getEnvAsDuration("TOKEN_EXPIRATION", 15*time.Minute),
	}

	config.Tutor = TutorConfig{
		HistoryTurns:        getEnvAsInt("HISTORY_TURNS", 5),
		SocraticExpiryTurns: getEnvAsInt("SOCRATIC_EXPIRY_TURNS", 3),
		SocraticClearAfter:  getEnvAsInt("SOCRATIC_CLEAR_AFTER", 2),
		AnswerStoreLimit:    getEnvAsInt("ANSWER_STORE_LIMIT", 500),
	}

	prompts, err := LoadPromptCatalog(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt catalog: %w", err)
	}
	config.Prompts = prompts

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
