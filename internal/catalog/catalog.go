// Package catalog turns a model reference into the context budget a single
// request may use.
package catalog

import (
	"strings"

	"github.com/s33g/prompter/internal/config"
)

// Metadata is the catalog information needed to size a request
type Metadata struct {
	ContextWindow   int
	TokensPerMinute int // 0 when the model is not throttled
}

// Budget is the usable context ceiling for a model and the figures it came from
type Budget struct {
	ModelID         string
	MaxContext      int
	ContextWindow   int
	TokensPerMinute int
}

// Source looks up catalog metadata for a model reference
type Source interface {
	ResolveMetadata(modelID string) (Metadata, bool)
}

// Resolver computes budgets from a Source, falling back to a conservative
// window for models it cannot find.
type Resolver struct {
	source         Source
	fallbackWindow int
}

// NewResolver creates a resolver. fallbackWindow is used for unknown models.
func NewResolver(source Source, fallbackWindow int) *Resolver {
	if fallbackWindow <= 0 {
		fallbackWindow = config.DefaultConfig().Defaults.MaxContextTokens
	}
	return &Resolver{source: source, fallbackWindow: fallbackWindow}
}

// ResolveBudget returns the budget for modelID. It never fails: unknown ids
// get the fallback window.
//
// A request cannot usefully exceed what the provider accepts per minute, so
// the stricter of the raw window and the throughput cap binds.
func (r *Resolver) ResolveBudget(modelID string) Budget {
	meta, ok := Metadata{}, false
	if r.source != nil {
		meta, ok = r.source.ResolveMetadata(modelID)
	}
	if !ok || meta.ContextWindow <= 0 {
		meta.ContextWindow = r.fallbackWindow
	}

	maxContext := meta.ContextWindow
	if meta.TokensPerMinute > 0 && meta.TokensPerMinute < maxContext {
		maxContext = meta.TokensPerMinute
	}

	return Budget{
		ModelID:         modelID,
		MaxContext:      maxContext,
		ContextWindow:   meta.ContextWindow,
		TokensPerMinute: meta.TokensPerMinute,
	}
}

// Chain tries each source in order and returns the first hit
type Chain []Source

// ResolveMetadata implements Source
func (c Chain) ResolveMetadata(modelID string) (Metadata, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if meta, ok := s.ResolveMetadata(modelID); ok {
			return meta, true
		}
	}
	return Metadata{}, false
}

// ConfigSource resolves "provider/model" references against the live
// configuration. The getter is called on every lookup so hot reloads apply.
type ConfigSource struct {
	current func() *config.Config
}

// NewConfigSource creates a config-backed source
func NewConfigSource(current func() *config.Config) *ConfigSource {
	return &ConfigSource{current: current}
}

// ResolveMetadata implements Source. Models configured without a
// context_window are reported as unknown so later sources can answer.
func (s *ConfigSource) ResolveMetadata(modelID string) (Metadata, bool) {
	cfg := s.current()
	if cfg == nil {
		return Metadata{}, false
	}
	_, model, err := cfg.ResolveModel(modelID)
	if err != nil || model.ContextWindow <= 0 {
		return Metadata{}, false
	}
	return Metadata{
		ContextWindow:   model.ContextWindow,
		TokensPerMinute: model.TokensPerMinute,
	}, true
}

// BuiltinSource knows the context windows of common model families. It
// matches on the model part of a reference, ignoring the provider prefix.
type BuiltinSource struct{}

var builtinExact = map[string]int{
	"gpt-4o":        128_000,
	"gpt-4o-mini":   128_000,
	"gpt-4-turbo":   128_000,
	"gpt-4":         8_192,
	"gpt-3.5-turbo": 16_385,
	"o1":            200_000,
	"o3-mini":       200_000,
}

var builtinPrefixes = []struct {
	prefix string
	window int
}{
	{"gpt-4.1", 1_047_576},
	{"gpt-4o", 128_000},
	{"o1", 200_000},
	{"o3", 200_000},
	{"o4", 200_000},
	{"claude-", 200_000},
	{"gemini-", 1_048_576},
	{"llama-3", 131_072},
	{"llama3", 131_072},
	{"mistral-large", 128_000},
}

// ResolveMetadata implements Source
func (BuiltinSource) ResolveMetadata(modelID string) (Metadata, bool) {
	model := strings.ToLower(strings.TrimSpace(modelID))
	if _, after, ok := strings.Cut(model, "/"); ok {
		model = after
	}

	if window, ok := builtinExact[model]; ok {
		return Metadata{ContextWindow: window}, true
	}
	for _, p := range builtinPrefixes {
		if strings.HasPrefix(model, p.prefix) {
			return Metadata{ContextWindow: p.window}, true
		}
	}
	return Metadata{}, false
}
