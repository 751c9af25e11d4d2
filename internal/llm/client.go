package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/s33g/prompter/internal/config"
)

// Client handles communication with one OpenAI-compatible provider
type Client struct {
	httpClient *http.Client
	provider   *config.Provider
	apiKey     string
}

// NewClient creates a new LLM client for a provider
func NewClient(provider *config.Provider) (*Client, error) {
	if provider.BaseURL == "" {
		return nil, fmt.Errorf("provider %s has no base_url", provider.Name)
	}

	// API key is optional (e.g., for local Ollama)
	apiKey := ""
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // 2 minute timeout for LLM requests
		},
		provider: provider,
		apiKey:   apiKey,
	}, nil
}

// Chat sends a chat completion request. Provider rejections are returned as
// *APIError; both successes and rejections carry the phase timings.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var timings Timings
	url := strings.TrimRight(c.provider.BaseURL, "/") + "/chat/completions"

	start := time.Now()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	timings.Serialize = time.Since(start)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start = time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	timings.Fetch = time.Since(start)

	start = time.Now()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
			apiErr.Type = errResp.Error.Type
			apiErr.Code = errResp.CodeString()
		}
		timings.Parse = time.Since(start)
		apiErr.Timings = timings
		return nil, apiErr
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	timings.Parse = time.Since(start)
	chatResp.Timings = timings

	return &chatResp, nil
}
