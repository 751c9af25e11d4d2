// Package ratelimit keeps a model's tokens-per-minute allowance in Redis so
// that several clients sharing one API key do not overrun it together.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s33g/prompter/internal/storage"
)

// Window is the length of one token accounting window
const Window = time.Minute

// ErrLimited is returned by callers that refuse a request because its
// reservation was rejected
var ErrLimited = errors.New("tokens-per-minute limit reached")

const tokenWindowScript = `
local limit = tonumber(ARGV[1])

if limit <= 0 then
    return {1, 0, 0, 0}
end

local used = tonumber(redis.call('GET', KEYS[1]) or "0")
local to_add = tonumber(ARGV[3])

if used + to_add > limit then
    local ttl = redis.call('TTL', KEYS[1])
    return {-1, used, limit - used, ttl > 0 and ttl or tonumber(ARGV[2])}
end

if used == 0 then
    redis.call('SET', KEYS[1], to_add, 'EX', tonumber(ARGV[2]))
else
    redis.call('INCRBY', KEYS[1], to_add)
end

used = used + to_add
return {1, used, limit - used, 0}
`

// Limiter reserves estimated request tokens against a per-model window
type Limiter struct {
	client *storage.Client
	sha    string
	now    func() time.Time
}

// NewLimiter loads the reservation script and returns a limiter
func NewLimiter(ctx context.Context, client *storage.Client) (*Limiter, error) {
	sha, err := client.LoadScript(ctx, tokenWindowScript)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		client: client,
		sha:    sha,
		now:    time.Now,
	}, nil
}

// Reservation holds the outcome of a Reserve call
type Reservation struct {
	Allowed         bool
	TokensUsed      int
	TokensRemaining int
	RetryAfter      time.Duration
}

// Reserve adds tokens to the model's current window if that keeps the window
// at or under limit. A limit of zero or less never rejects. A rejected
// reservation leaves the window unchanged.
func (l *Limiter) Reserve(ctx context.Context, model string, limit, tokens int) (*Reservation, error) {
	if limit <= 0 {
		return &Reservation{Allowed: true}, nil
	}

	key := l.client.Keys().TokenWindow(model, l.windowStart())
	windowSeconds := int64(Window / time.Second)

	result, err := l.client.Redis().EvalSha(ctx, l.sha, []string{key},
		limit,
		windowSeconds,
		tokens,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("token window check failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected token window result format")
	}

	status, _ := values[0].(int64)
	used, _ := values[1].(int64)
	remaining, _ := values[2].(int64)
	seconds, _ := values[3].(int64)

	if status == 1 {
		return &Reservation{
			Allowed:         true,
			TokensUsed:      int(used),
			TokensRemaining: int(remaining),
		}, nil
	}

	return &Reservation{
		Allowed:         false,
		TokensUsed:      int(used),
		TokensRemaining: int(remaining),
		RetryAfter:      time.Duration(seconds) * time.Second,
	}, nil
}

// Usage returns the tokens reserved for model in the current window
func (l *Limiter) Usage(ctx context.Context, model string) (int, error) {
	key := l.client.Keys().TokenWindow(model, l.windowStart())

	val, err := l.client.Redis().Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return val, nil
}

func (l *Limiter) windowStart() int64 {
	seconds := int64(Window / time.Second)
	return (l.now().Unix() / seconds) * seconds
}
