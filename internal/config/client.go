package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"learning-agent/pkg/api"

	"github.com/spf13/viper"
)

// Client configuration keys, also used as flag names with "_" replaced by "-"
const (
	KeyBackendURL     = "backend_url"
	KeySharedSecret   = "shared_secret"
	KeyStorePath      = "store_path"
	KeyRequestTimeout = "request_timeout"
	KeyDefaultMode    = "default_mode"
	KeyEnhancer       = "enhancer"
	KeyLogFile        = "log_file"
	KeyLogLevel       = "log_level"
)

// ClientConfig holds the settings of the terminal agent
type ClientConfig struct {
	BackendURL     string        `mapstructure:"backend_url"`
	SharedSecret   string        `mapstructure:"shared_secret"`
	StorePath      string        `mapstructure:"store_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DefaultMode    api.Mode      `mapstructure:"default_mode"`
	Enhancer       bool          `mapstructure:"enhancer"`
	LogFile        string        `mapstructure:"log_file"`
	LogLevel       string        `mapstructure:"log_level"`
}

// NewClientViper returns a viper instance with client defaults. Environment variables use
// the AGENT_ prefix, e.g. AGENT_BACKEND_URL.
func NewClientViper() *viper.Viper {
	v := viper.New()

	dataDir := defaultDataDir()
	v.SetDefault(KeyBackendURL, "http://localhost:8080")
	v.SetDefault(KeySharedSecret, "")
	v.SetDefault(KeyStorePath, filepath.Join(dataDir, "conversations.db"))
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
	v.SetDefault(KeyDefaultMode, string(api.ModeLearning))
	v.SetDefault(KeyEnhancer, true)
	v.SetDefault(KeyLogFile, filepath.Join(dataDir, "agent.log"))
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadClientConfig reads the optional config file and decodes the merged settings.
// An explicit configFile must exist; otherwise agent.yaml is looked up in the working
// directory and the data directory.
func LoadClientConfig(v *viper.Viper, configFile string) (*ClientConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the decoded settings
func (c *ClientConfig) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	}
	if !c.DefaultMode.Valid() {
		errs = append(errs, fmt.Errorf("default_mode must be %q or %q, got %q", api.ModeLearning, api.ModeSocratic, c.DefaultMode))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.StorePath == "" {
		errs = append(errs, errors.New("store_path is required"))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "learning-agent")
	}
	return ".learning-agent"
}
