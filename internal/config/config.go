package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}

	if c.Defaults.MaxContextTokens <= 0 {
		return fmt.Errorf("defaults.max_context_tokens must be positive")
	}

	// Budget
	if c.Budget.UserRequestAllowance < 0 {
		return fmt.Errorf("budget.user_request_allowance must not be negative")
	}
	if c.Budget.CharsPerToken <= 0 {
		return fmt.Errorf("budget.chars_per_token must be positive")
	}
	if c.Budget.MaxTrimAttempts < 0 {
		return fmt.Errorf("budget.max_trim_attempts must not be negative")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	for i, provider := range c.Providers {
		if provider.Name == "" {
			return fmt.Errorf("provider[%d].name is required", i)
		}
		if strings.Contains(provider.Name, "/") {
			return fmt.Errorf("provider[%d].name must not contain '/'", i)
		}
		if provider.BaseURL == "" {
			return fmt.Errorf("provider[%d].base_url is required", i)
		}
		if len(provider.Models) == 0 {
			return fmt.Errorf("provider[%d] must have at least one model", i)
		}

		for j, model := range provider.Models {
			if model.ID == "" {
				return fmt.Errorf("provider[%d].models[%d].id is required", i, j)
			}
			if model.ContextWindow < 0 {
				return fmt.Errorf("provider[%d].models[%d].context_window must not be negative", i, j)
			}
			if model.TokensPerMinute < 0 {
				return fmt.Errorf("provider[%d].models[%d].tokens_per_minute must not be negative", i, j)
			}
		}
	}

	if c.Budget.DefaultModel != "" {
		if _, _, err := c.ResolveModel(c.Budget.DefaultModel); err != nil {
			return fmt.Errorf("budget.default_model: %w", err)
		}
	}

	return nil
}

// GetProvider returns a provider by name
func (c *Config) GetProvider(name string) (*Provider, error) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider %s not found", name)
}

// ResolveModel returns the provider and model for a model reference (e.g., "openai/gpt-4o")
func (c *Config) ResolveModel(modelRef string) (*Provider, *Model, error) {
	providerName, modelID, ok := strings.Cut(modelRef, "/")
	if !ok || providerName == "" || modelID == "" {
		return nil, nil, fmt.Errorf("invalid model reference: %s (expected format: provider/model)", modelRef)
	}

	provider, err := c.GetProvider(providerName)
	if err != nil {
		return nil, nil, err
	}

	for i := range provider.Models {
		if provider.Models[i].ID == modelID {
			return provider, &provider.Models[i], nil
		}
	}

	return nil, nil, fmt.Errorf("model %s not found in provider %s", modelID, providerName)
}

// ParseLevel returns the zerolog level for the logging config, defaulting to info
func (l LoggingConfig) ParseLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
