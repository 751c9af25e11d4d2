package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process exchange store with the same behavior as
// Store. It is used by the CLI's --memory mode and by tests.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	exchanges     map[string][]Exchange
	maxExchanges  int
}

// NewMemoryStore creates an empty store keeping at most maxExchanges per
// conversation (0 means unlimited).
func NewMemoryStore(maxExchanges int) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]Conversation),
		exchanges:     make(map[string][]Exchange),
		maxExchanges:  maxExchanges,
	}
}

// Create creates a new conversation
func (s *MemoryStore) Create(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	s.conversations[conv.ID] = conv
	return nil
}

// Get retrieves a conversation by ID
func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return &conv, nil
}

// UpdateModel changes the model for a conversation
func (s *MemoryStore) UpdateModel(_ context.Context, id, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[id]
	conv.ID = id
	conv.Model = model
	conv.UpdatedAt = time.Now()
	s.conversations[id] = conv
	return nil
}

// IncrementTokenCount adds tokens to the conversation's total
func (s *MemoryStore) IncrementTokenCount(_ context.Context, id string, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[id]
	conv.ID = id
	conv.TokenCount += tokens
	s.conversations[id] = conv
	return nil
}

// Append adds an exchange to the end of the conversation history
func (s *MemoryStore) Append(_ context.Context, convID string, e Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.exchanges[convID], e)
	if s.maxExchanges > 0 && len(list) > s.maxExchanges {
		list = append([]Exchange(nil), list[len(list)-s.maxExchanges:]...)
	}
	s.exchanges[convID] = list
	return nil
}

// List returns a copy of the conversation's exchanges in chronological order
func (s *MemoryStore) List(_ context.Context, convID string) ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Exchange(nil), s.exchanges[convID]...)
	SortChronological(out)
	return out, nil
}

// UpdateReply sets the reply and error fields of a single exchange
func (s *MemoryStore) UpdateReply(_ context.Context, convID, exchangeID, assistantText, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.exchanges[convID]
	for i := range list {
		if list[i].ID == exchangeID {
			list[i].AssistantText = assistantText
			list[i].Error = errText
			return nil
		}
	}
	return fmt.Errorf("exchange %s: %w", exchangeID, ErrNotFound)
}

// Clear removes all exchanges from a conversation
func (s *MemoryStore) Clear(_ context.Context, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.exchanges, convID)
	return nil
}
