package storage

import (
	"fmt"
)

// Keys generates Redis keys with consistent naming
type Keys struct {
	prefix string
}

// NewKeys creates a new Keys generator
func NewKeys(prefix string) *Keys {
	return &Keys{prefix: prefix}
}

// Conversation returns the key for conversation metadata
func (k *Keys) Conversation(convID string) string {
	return fmt.Sprintf("%sconversation:%s", k.prefix, convID)
}

// Exchanges returns the key for a conversation's exchange list
func (k *Keys) Exchanges(convID string) string {
	return fmt.Sprintf("%sexchanges:%s", k.prefix, convID)
}

// TokenWindow returns the key counting tokens sent to a model in one window
func (k *Keys) TokenWindow(model string, windowStart int64) string {
	return fmt.Sprintf("%stokens:%s:%d", k.prefix, model, windowStart)
}
