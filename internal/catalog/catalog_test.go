package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/s33g/prompter/internal/config"
)

type staticSource map[string]Metadata

func (s staticSource) ResolveMetadata(modelID string) (Metadata, bool) {
	m, ok := s[modelID]
	return m, ok
}

func TestResolver_ResolveBudget(t *testing.T) {
	r := NewResolver(staticSource{
		"p/throttled": {ContextWindow: 128_000, TokensPerMinute: 30_000},
		"p/open":      {ContextWindow: 16_000},
		"p/loose-tpm": {ContextWindow: 8_000, TokensPerMinute: 90_000},
	}, 4096)

	tests := []struct {
		name string
		id   string
		want Budget
	}{
		{
			name: "throughput cap binds",
			id:   "p/throttled",
			want: Budget{ModelID: "p/throttled", MaxContext: 30_000, ContextWindow: 128_000, TokensPerMinute: 30_000},
		},
		{
			name: "no throughput cap",
			id:   "p/open",
			want: Budget{ModelID: "p/open", MaxContext: 16_000, ContextWindow: 16_000},
		},
		{
			name: "window binds",
			id:   "p/loose-tpm",
			want: Budget{ModelID: "p/loose-tpm", MaxContext: 8_000, ContextWindow: 8_000, TokensPerMinute: 90_000},
		},
		{
			name: "unknown model falls back",
			id:   "nobody/knows",
			want: Budget{ModelID: "nobody/knows", MaxContext: 4096, ContextWindow: 4096},
		},
		{
			name: "empty id falls back",
			id:   "",
			want: Budget{MaxContext: 4096, ContextWindow: 4096},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ResolveBudget(tt.id))
		})
	}
}

func TestResolver_NilSourceAndDefaultFallback(t *testing.T) {
	r := NewResolver(nil, 0)
	b := r.ResolveBudget("x/y")
	assert.Equal(t, config.DefaultConfig().Defaults.MaxContextTokens, b.MaxContext)
}

func TestConfigSource(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{
				Name: "openai",
				Models: []config.Model{
					{ID: "gpt-4o", ContextWindow: 128_000, TokensPerMinute: 30_000},
					{ID: "no-window"},
				},
			},
		},
	}
	src := NewConfigSource(func() *config.Config { return cfg })

	meta, ok := src.ResolveMetadata("openai/gpt-4o")
	assert.True(t, ok)
	assert.Equal(t, Metadata{ContextWindow: 128_000, TokensPerMinute: 30_000}, meta)

	_, ok = src.ResolveMetadata("openai/no-window")
	assert.False(t, ok, "model without a window should defer to later sources")

	_, ok = src.ResolveMetadata("openai/missing")
	assert.False(t, ok)

	// Hot reload: the getter is consulted on every call
	cfg = &config.Config{}
	_, ok = src.ResolveMetadata("openai/gpt-4o")
	assert.False(t, ok)
}

func TestBuiltinSource(t *testing.T) {
	tests := []struct {
		id     string
		window int
		ok     bool
	}{
		{"openai/gpt-4o-mini", 128_000, true},
		{"openai/gpt-4", 8_192, true},
		{"openai/gpt-4.1-nano", 1_047_576, true},
		{"anthropic/claude-sonnet-4-5", 200_000, true},
		{"google/Gemini-2.5-Pro", 1_048_576, true},
		{"gpt-3.5-turbo", 16_385, true},
		{"local/phi-3", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			meta, ok := BuiltinSource{}.ResolveMetadata(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.window, meta.ContextWindow)
		})
	}
}

func TestChain(t *testing.T) {
	chain := Chain{
		nil,
		staticSource{"openai/gpt-4o": {ContextWindow: 64_000}},
		BuiltinSource{},
	}

	meta, ok := chain.ResolveMetadata("openai/gpt-4o")
	assert.True(t, ok)
	assert.Equal(t, 64_000, meta.ContextWindow, "earlier source wins")

	meta, ok = chain.ResolveMetadata("anthropic/claude-opus-4")
	assert.True(t, ok)
	assert.Equal(t, 200_000, meta.ContextWindow)

	_, ok = chain.ResolveMetadata("local/unknown")
	assert.False(t, ok)
}
