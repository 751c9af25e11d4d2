package config

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Redis     RedisConfig    `yaml:"redis"`
	Defaults  DefaultsConfig `yaml:"defaults"`
	Budget    BudgetConfig   `yaml:"budget"`
	Providers []Provider     `yaml:"providers"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address     string `yaml:"address"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// DefaultsConfig holds fallback values applied to every conversation
type DefaultsConfig struct {
	MaxContextTokens     int `yaml:"max_context_tokens"` // Window assumed for unknown models
	ConversationTTLHours int `yaml:"conversation_ttl_hours"`
	MessageHistoryLimit  int `yaml:"message_history_limit"`
}

// ConversationTTL returns the conversation TTL as a Duration
func (d *DefaultsConfig) ConversationTTL() time.Duration {
	return time.Duration(d.ConversationTTLHours) * time.Hour
}

// BudgetConfig holds the context budget settings
type BudgetConfig struct {
	UserRequestAllowance int     `yaml:"user_request_allowance"`
	CharsPerToken        float64 `yaml:"chars_per_token"`
	MaxTrimAttempts      int     `yaml:"max_trim_attempts"`
	DefaultModel         string  `yaml:"default_model"`
}

// Provider represents an LLM provider configuration
type Provider struct {
	Name             string  `yaml:"name"`
	BaseURL          string  `yaml:"base_url"`
	APIKeyEnv        string  `yaml:"api_key_env"`
	DefaultMaxTokens int     `yaml:"default_max_tokens"`
	Models           []Model `yaml:"models"`
}

// Model represents an LLM model configuration
type Model struct {
	ID              string `yaml:"id"`
	DisplayName     string `yaml:"display_name"`
	ContextWindow   int    `yaml:"context_window"`
	TokensPerMinute int    `yaml:"tokens_per_minute,omitempty"` // 0 means unthrottled
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
