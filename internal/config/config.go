// Package config loads CLI configuration: the API key (flag, environment,
// or the ~/.vast_api_key file the console client writes), the marketplace
// endpoint, and logging settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultAPIKeyFileName is the key file in the user's home directory,
// shared with the official console client.
const DefaultAPIKeyFileName = ".vast_api_key"

// Config holds all CLI configuration
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	APIKeyFile  string        `mapstructure:"api_key_file"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// DefaultAPIKeyFile returns the per-user key file path, or "" when the
// home directory cannot be determined.
func DefaultAPIKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultAPIKeyFileName)
}

// Load reads configuration from environment variables and defaults. An
// optional config file path may point at a yaml/toml file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "https://console.vast.ai/api/v0")
	v.SetDefault("api_key_file", DefaultAPIKeyFile())
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("min_interval", time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// BindEnv only fails on an empty key; ignore.
	_ = v.BindEnv("api_key", "VASTAI_API_KEY")
	_ = v.BindEnv("api_key_file", "VASTAI_API_KEY_FILE")
	_ = v.BindEnv("base_url", "VASTAI_BASE_URL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// ResolveAPIKey returns the configured key, falling back to the key file.
func (c *Config) ResolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyFile != "" {
		data, err := os.ReadFile(c.APIKeyFile)
		if err == nil {
			if key := strings.TrimSpace(string(data)); key != "" {
				return key, nil
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read api key file: %w", err)
		}
	}
	return "", fmt.Errorf("no API key configured: set VASTAI_API_KEY or write %s", c.APIKeyFile)
}

// SaveAPIKey writes the key to the key file with owner-only permissions.
func (c *Config) SaveAPIKey(key string) error {
	if c.APIKeyFile == "" {
		return fmt.Errorf("no api key file path configured")
	}
	if err := os.WriteFile(c.APIKeyFile, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write api key file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
