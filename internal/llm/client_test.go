package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/s33g/prompter/internal/config"
)

func TestClient_Chat(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "secret")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) == 0 {
			t.Error("Expected messages in request")
		}

		resp := ChatResponse{
			ID:    "test-123",
			Model: "test-model",
			Choices: []Choice{
				{Message: Message{Role: RoleAssistant, Content: "This is a test response."}, FinishReason: "stop"},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(&config.Provider{Name: "test", BaseURL: server.URL + "/", APIKeyEnv: "TEST_LLM_KEY"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "Hello!"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.Content() != "This is a test response." {
		t.Errorf("Content = %v, want 'This is a test response.'", resp.Content())
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", resp.Usage.TotalTokens)
	}
	if resp.Timings.Fetch <= 0 {
		t.Errorf("Fetch timing = %v, want positive", resp.Timings.Fetch)
	}
}

func TestClient_ChatError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantType string
		wantMsg  string
	}{
		{
			name:     "string code",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"This model's maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			wantCode: "context_length_exceeded",
			wantType: "invalid_request_error",
			wantMsg:  "This model's maximum context length is 8192 tokens",
		},
		{
			name:     "numeric code",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"bad key","code":401}}`,
			wantCode: "401",
			wantMsg:  "bad key",
		},
		{
			name:    "plain body",
			status:  http.StatusBadGateway,
			body:    "upstream exploded\n",
			wantMsg: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewClient(&config.Provider{Name: "test", BaseURL: server.URL})
			_, err := client.Chat(context.Background(), ChatRequest{
				Model:    "test-model",
				Messages: []Message{{Role: RoleUser, Content: "Hello!"}},
			})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_ChatCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client, _ := NewClient(&config.Provider{Name: "test", BaseURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Chat(ctx, ChatRequest{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Chat() error = %v, want context.Canceled", err)
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(&config.Provider{Name: "test"}); err == nil {
		t.Error("Expected error for provider without base_url")
	}
}

func TestRegistry_SendChat(t *testing.T) {
	var gotModel string
	var gotMaxTokens int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		gotMaxTokens = req.MaxTokens
		json.NewEncoder(w).Encode(ChatResponse{Choices: []Choice{{Message: Message{Content: "ok"}}}})
	}))
	defer server.Close()

	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "local", BaseURL: server.URL, DefaultMaxTokens: 512, Models: []config.Model{{ID: "llama3"}}},
		},
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	resp, err := registry.SendChat(context.Background(), ChatRequest{Model: "local/llama3"})
	if err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if resp.Content() != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content())
	}
	if gotModel != "llama3" {
		t.Errorf("Provider saw model %q, want llama3", gotModel)
	}
	if gotMaxTokens != 512 {
		t.Errorf("Provider saw max_tokens %d, want 512", gotMaxTokens)
	}

	if _, err := registry.SendChat(context.Background(), ChatRequest{Model: "local/missing"}); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func TestRegistry_GetClientAndReload(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "test1", BaseURL: "http://localhost:8080", Models: []config.Model{{ID: "model1"}}},
		},
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := registry.GetClient("test1"); err != nil {
		t.Errorf("GetClient(test1) error = %v", err)
	}
	if _, err := registry.GetClient("test2"); err == nil {
		t.Error("Expected error for non-existent provider")
	}

	err = registry.Reload(&config.Config{
		Providers: []config.Provider{
			{Name: "test2", BaseURL: "http://localhost:8081", Models: []config.Model{{ID: "model2"}}},
		},
	})
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := registry.GetClient("test1"); err == nil {
		t.Error("test1 should be gone after reload")
	}
	if _, err := registry.GetClient("test2"); err != nil {
		t.Errorf("GetClient(test2) after reload error = %v", err)
	}

	// A broken config keeps the old clients
	if err := registry.Reload(&config.Config{Providers: []config.Provider{{Name: "bad"}}}); err == nil {
		t.Error("Expected error reloading provider without base_url")
	}
	if _, err := registry.GetClient("test2"); err != nil {
		t.Errorf("GetClient(test2) after failed reload error = %v", err)
	}
}
