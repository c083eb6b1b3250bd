package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Lariat configuration
type Config struct {
	// Store selects and configures session persistence
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Providers holds model backend credentials
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Runner holds agent loop defaults
	Runner RunnerConfig `json:"runner" mapstructure:"runner"`

	// Memory configures recall over past sessions
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Cleanup configures scheduled session expiry
	Cleanup CleanupConfig `json:"cleanup" mapstructure:"cleanup"`

	// Logging holds logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StoreConfig selects the session store backend
type StoreConfig struct {
	// Backend is "memory" or "sqlite"
	Backend string `json:"backend" mapstructure:"backend"`
	// Path is the sqlite database file, relative paths resolve under DataDir
	Path string `json:"path" mapstructure:"path"`
}

// ProviderConfig represents one model backend credential
type ProviderConfig struct {
	// Name is "anthropic" or "openai"
	Name   string `json:"name" mapstructure:"name"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// RunnerConfig holds agent loop defaults
type RunnerConfig struct {
	Provider      string        `json:"provider" mapstructure:"provider"`
	Model         string        `json:"model" mapstructure:"model"`
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	SystemPrompt  string        `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int           `json:"max_tokens" mapstructure:"max_tokens"`
	Tools         []string      `json:"tools" mapstructure:"tools"`
	UseMemory     bool          `json:"use_memory" mapstructure:"use_memory"`
	MaxEvents     int           `json:"max_events" mapstructure:"max_events"`
}

// MemoryConfig configures recall over past sessions
type MemoryConfig struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	Limit    int     `json:"limit" mapstructure:"limit"`
	MinScore float64 `json:"min_score" mapstructure:"min_score"`
}

// CleanupConfig configures scheduled session expiry
type CleanupConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Schedule string        `json:"schedule" mapstructure:"schedule"`
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Path:    "lariat.db",
		},
		Runner: RunnerConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			MaxIterations: 5,
			Timeout:       60 * time.Second,
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxEvents:     1000,
		},
		Memory: MemoryConfig{
			Enabled:  false,
			Limit:    3,
			MinScore: 0.5,
		},
		Cleanup: CleanupConfig{
			Enabled:  false,
			Schedule: "@daily",
			MaxAge:   7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store backend %s (must be: memory, sqlite)", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for the sqlite backend")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("no model credentials configured: at least one provider is required")
	}
	seen := map[string]bool{}
	for i, provider := range c.Providers {
		if provider.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if provider.Name != "anthropic" && provider.Name != "openai" {
			return fmt.Errorf("provider %s: invalid name (must be: anthropic, openai)", provider.Name)
		}
		if provider.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", provider.Name)
		}
		if seen[provider.Name] {
			return fmt.Errorf("provider %s: configured twice", provider.Name)
		}
		seen[provider.Name] = true
	}

	if c.Runner.Model == "" {
		return fmt.Errorf("runner model is required")
	}
	if !seen[c.Runner.Provider] {
		return fmt.Errorf("runner provider %s has no configured credential", c.Runner.Provider)
	}
	if c.Runner.Temperature < 0 || c.Runner.Temperature > 1 {
		return fmt.Errorf("runner temperature must be between 0 and 1")
	}
	if c.Runner.MaxIterations < 0 {
		return fmt.Errorf("runner max_iterations cannot be negative")
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.Schedule == "" {
			return fmt.Errorf("cleanup schedule is required when cleanup is enabled")
		}
		if c.Cleanup.MaxAge <= 0 {
			return fmt.Errorf("cleanup max_age must be positive")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}
