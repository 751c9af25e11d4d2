package llm

import (
	"encoding/json"
	"strings"
	"time"
)

// Request types for OpenAI-compatible API

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`

	Timings Timings `json:"-"`
}

// Content returns the first choice's message content
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Timings are the client-side phases of one provider call. Advisory only.
type Timings struct {
	Serialize time.Duration `json:"serialize"`
	Fetch     time.Duration `json:"fetch"`
	Parse     time.Duration `json:"parse"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// CodeString returns the error code whether the provider sent a string or a number
func (e *ErrorResponse) CodeString() string {
	raw := strings.TrimSpace(string(e.Error.Code))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Error.Code, &s); err == nil {
		return s
	}
	return raw
}
