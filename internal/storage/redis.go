// Package storage holds the Redis connection and key layout shared by the
// exchange store and the token window limiter.
package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s33g/prompter/internal/config"
)

// Client wraps a Redis client with the key layout of one deployment
type Client struct {
	rdb  *redis.Client
	keys *Keys
}

// NewClient connects to Redis and verifies the connection with a ping
// bounded by ctx.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	password := ""
	if cfg.PasswordEnv != "" {
		password = os.Getenv(cfg.PasswordEnv)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Client{
		rdb:  rdb,
		keys: NewKeys(cfg.KeyPrefix),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying Redis client for advanced operations
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Keys returns the key generator
func (c *Client) Keys() *Keys {
	return c.keys
}

// LoadScript registers a Lua script and returns its SHA for EvalSha
func (c *Client) LoadScript(ctx context.Context, src string) (string, error) {
	sha, err := c.rdb.ScriptLoad(ctx, src).Result()
	if err != nil {
		return "", fmt.Errorf("failed to load script: %w", err)
	}
	return sha, nil
}

// Expire queues a TTL refresh of every key on pipe, so related keys expire
// together.
func Expire(ctx context.Context, pipe redis.Pipeliner, ttl time.Duration, keys ...string) {
	if ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, ttl)
	}
}
