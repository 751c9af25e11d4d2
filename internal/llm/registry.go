package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/s33g/prompter/internal/config"
)

// defaultMaxTokens caps replies for providers without default_max_tokens
const defaultMaxTokens = 2048

// Registry manages LLM providers and their clients
type Registry struct {
	clients map[string]*Client // key: provider name
	mu      sync.RWMutex
	config  *config.Config
}

// NewRegistry creates a new provider registry
func NewRegistry(cfg *config.Config) (*Registry, error) {
	clients, err := buildClients(cfg)
	if err != nil {
		return nil, err
	}
	return &Registry{
		clients: clients,
		config:  cfg,
	}, nil
}

func buildClients(cfg *config.Config) (map[string]*Client, error) {
	clients := make(map[string]*Client, len(cfg.Providers))
	for i := range cfg.Providers {
		client, err := NewClient(&cfg.Providers[i])
		if err != nil {
			return nil, fmt.Errorf("failed to create client for provider %s: %w", cfg.Providers[i].Name, err)
		}
		clients[cfg.Providers[i].Name] = client
	}
	return clients, nil
}

// GetClient returns the client for a provider
func (r *Registry) GetClient(providerName string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[providerName]
	if !ok {
		return nil, fmt.Errorf("provider %s not found", providerName)
	}

	return client, nil
}

// SendChat sends req to the provider named by req.Model, a "provider/model"
// reference. The reference is rewritten to the provider's model id.
func (r *Registry) SendChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	provider, model, err := r.config.ResolveModel(req.Model)
	var client *Client
	if err == nil {
		client = r.clients[provider.Name]
	}
	r.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("provider %s not found", provider.Name)
	}

	req.Model = model.ID
	if req.MaxTokens == 0 {
		req.MaxTokens = provider.DefaultMaxTokens
		if req.MaxTokens == 0 {
			req.MaxTokens = defaultMaxTokens
		}
	}

	return client.Chat(ctx, req)
}

// Reload reinitializes clients after config reload
func (r *Registry) Reload(cfg *config.Config) error {
	clients, err := buildClients(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.clients = clients
	r.config = cfg
	r.mu.Unlock()

	return nil
}
