package config

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Address:   "localhost:6379",
			DB:        0,
			KeyPrefix: "prompter:",
		},
		Defaults: DefaultsConfig{
			MaxContextTokens:     4096,
			ConversationTTLHours: 168, // 7 days
			MessageHistoryLimit:  200,
		},
		Budget: BudgetConfig{
			UserRequestAllowance: 1000,
			CharsPerToken:        4,
			MaxTrimAttempts:      3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
