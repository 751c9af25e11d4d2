package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s33g/prompter/internal/storage"
)

// ErrNotFound is returned when a conversation or exchange does not exist
var ErrNotFound = errors.New("not found")

// Conversation holds per-conversation metadata
type Conversation struct {
	ID           string
	Model        string
	SystemPrompt string
	TokenCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ToMap converts conversation to a map for Redis HSET
func (c *Conversation) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"model":         c.Model,
		"system_prompt": c.SystemPrompt,
		"token_count":   c.TokenCount,
		"created_at":    c.CreatedAt.Unix(),
		"updated_at":    c.UpdatedAt.Unix(),
	}
}

// FromMap populates conversation from Redis HGETALL result
func (c *Conversation) FromMap(id string, m map[string]string) {
	c.ID = id
	c.Model = m["model"]
	c.SystemPrompt = m["system_prompt"]
	if n, err := strconv.Atoi(m["token_count"]); err == nil {
		c.TokenCount = n
	}
	if ts, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		c.CreatedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		c.UpdatedAt = time.Unix(ts, 0)
	}
}

// Store keeps conversations and their exchanges in Redis. Exchanges live in
// a list in submission order, capped at maxExchanges.
type Store struct {
	client       *storage.Client
	ttl          time.Duration
	maxExchanges int
}

// NewStore creates a new Redis-backed exchange store
func NewStore(client *storage.Client, ttl time.Duration, maxExchanges int) *Store {
	return &Store{
		client:       client,
		ttl:          ttl,
		maxExchanges: maxExchanges,
	}
}

// Create creates a new conversation
func (s *Store) Create(ctx context.Context, conv Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	key := s.client.Keys().Conversation(conv.ID)

	pipe := s.client.Redis().TxPipeline()
	pipe.HSet(ctx, key, conv.ToMap())
	storage.Expire(ctx, pipe, s.ttl, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// Get retrieves a conversation by ID
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := s.client.Redis().HGetAll(ctx, s.client.Keys().Conversation(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}

	var conv Conversation
	conv.FromMap(id, data)
	return &conv, nil
}

// UpdateModel changes the model for a conversation
func (s *Store) UpdateModel(ctx context.Context, id, model string) error {
	key := s.client.Keys().Conversation(id)

	pipe := s.client.Redis().Pipeline()
	pipe.HSet(ctx, key, "model", model, "updated_at", time.Now().Unix())
	storage.Expire(ctx, pipe, s.ttl, key, s.client.Keys().Exchanges(id))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}

	return nil
}

// IncrementTokenCount adds provider-reported tokens to the conversation's total
func (s *Store) IncrementTokenCount(ctx context.Context, id string, tokens int) error {
	key := s.client.Keys().Conversation(id)

	if err := s.client.Redis().HIncrBy(ctx, key, "token_count", int64(tokens)).Err(); err != nil {
		return fmt.Errorf("failed to increment token count: %w", err)
	}

	return nil
}

// Delete deletes a conversation and its exchanges
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.Redis().Pipeline()
	pipe.Del(ctx, s.client.Keys().Conversation(id))
	pipe.Del(ctx, s.client.Keys().Exchanges(id))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// Append adds an exchange to the end of the conversation history
func (s *Store) Append(ctx context.Context, convID string, e Exchange) error {
	key := s.client.Keys().Exchanges(convID)

	data, err := MarshalExchange(e)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange: %w", err)
	}

	pipe := s.client.Redis().Pipeline()
	pipe.RPush(ctx, key, data)
	if s.maxExchanges > 0 {
		pipe.LTrim(ctx, key, -int64(s.maxExchanges), -1)
	}
	storage.Expire(ctx, pipe, s.ttl, key, s.client.Keys().Conversation(convID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append exchange: %w", err)
	}

	return nil
}

// List returns the conversation's exchanges in chronological order
func (s *Store) List(ctx context.Context, convID string) ([]Exchange, error) {
	data, err := s.client.Redis().LRange(ctx, s.client.Keys().Exchanges(convID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}

	exchanges := make([]Exchange, 0, len(data))
	for _, d := range data {
		e, err := UnmarshalExchange(d)
		if err != nil {
			// Skip malformed entries
			continue
		}
		exchanges = append(exchanges, e)
	}

	SortChronological(exchanges)
	return exchanges, nil
}

// UpdateReply sets the reply and error fields of a single exchange. The
// list is watched so a concurrent append or trim cannot shift the index.
func (s *Store) UpdateReply(ctx context.Context, convID, exchangeID, assistantText, errText string) error {
	key := s.client.Keys().Exchanges(convID)
	rdb := s.client.Redis()

	txf := func(tx *redis.Tx) error {
		data, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}

		for i, d := range data {
			e, err := UnmarshalExchange(d)
			if err != nil || e.ID != exchangeID {
				continue
			}
			e.AssistantText = assistantText
			e.Error = errText

			updated, err := MarshalExchange(e)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, key, int64(i), updated)
				storage.Expire(ctx, pipe, s.ttl, key)
				return nil
			})
			return err
		}

		return fmt.Errorf("exchange %s: %w", exchangeID, ErrNotFound)
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update exchange: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to update exchange %s: too much contention", exchangeID)
}

// Clear removes all exchanges from a conversation (keeps conversation metadata)
func (s *Store) Clear(ctx context.Context, convID string) error {
	if err := s.client.Redis().Del(ctx, s.client.Keys().Exchanges(convID)).Err(); err != nil {
		return fmt.Errorf("failed to clear exchanges: %w", err)
	}

	return nil
}
