package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/s33g/prompter/internal/config"
	"github.com/s33g/prompter/internal/storage"
)

func getTestClient(t *testing.T) *storage.Client {
	t.Helper()

	cfg := config.RedisConfig{
		Address:   "localhost:6379",
		DB:        15,
		KeyPrefix: "test:",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := storage.NewClient(ctx, cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clean test database
	client.Redis().FlushDB(context.Background())

	return client
}

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	client := getTestClient(t)
	t.Cleanup(func() { client.Close() })

	limiter, err := NewLimiter(context.Background(), client)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}

	// Pin the clock to the middle of a window
	fixed := time.Unix(1_700_000_030, 0)
	limiter.now = func() time.Time { return fixed }

	return limiter
}

func TestLimiter_Reserve(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	result, err := limiter.Reserve(ctx, "openai/gpt-4o", 100, 30)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !result.Allowed {
		t.Error("First reservation should be allowed")
	}
	if result.TokensUsed != 30 {
		t.Errorf("TokensUsed = %d, want 30", result.TokensUsed)
	}

	result, err = limiter.Reserve(ctx, "openai/gpt-4o", 100, 70)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !result.Allowed {
		t.Error("Reservation filling the window exactly should be allowed")
	}
	if result.TokensRemaining != 0 {
		t.Errorf("TokensRemaining = %d, want 0", result.TokensRemaining)
	}

	// Try to exceed the window
	result, err = limiter.Reserve(ctx, "openai/gpt-4o", 100, 1)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if result.Allowed {
		t.Error("Reservation should be rejected (would exceed limit)")
	}
	if result.TokensUsed != 100 {
		t.Errorf("TokensUsed = %d, want 100 (unchanged)", result.TokensUsed)
	}
	if result.RetryAfter <= 0 {
		t.Error("RetryAfter should be positive")
	}
}

func TestLimiter_ReserveUnlimited(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := limiter.Reserve(ctx, "local/llama3", 0, 10000)
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		if !result.Allowed {
			t.Errorf("Reservation %d should be allowed (no limit)", i+1)
		}
	}

	usage, err := limiter.Usage(ctx, "local/llama3")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage != 0 {
		t.Errorf("Usage = %d, want 0 when unlimited", usage)
	}
}

func TestLimiter_Usage(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	usage, err := limiter.Usage(ctx, "openai/gpt-4o")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage != 0 {
		t.Errorf("Initial usage = %d, want 0", usage)
	}

	limiter.Reserve(ctx, "openai/gpt-4o", 1000, 50)

	usage, err = limiter.Usage(ctx, "openai/gpt-4o")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage != 50 {
		t.Errorf("Usage = %d, want 50", usage)
	}
}

func TestLimiter_ModelsAndWindowsAreSeparate(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	limiter.Reserve(ctx, "openai/gpt-4o", 10, 10)

	result, _ := limiter.Reserve(ctx, "openai/gpt-4o", 10, 1)
	if result.Allowed {
		t.Error("gpt-4o window should be full")
	}

	result, _ = limiter.Reserve(ctx, "openai/gpt-4o-mini", 10, 1)
	if !result.Allowed {
		t.Error("gpt-4o-mini should have its own window")
	}

	// The next window starts empty
	next := limiter.now().Add(Window)
	limiter.now = func() time.Time { return next }

	result, _ = limiter.Reserve(ctx, "openai/gpt-4o", 10, 10)
	if !result.Allowed {
		t.Error("Next window should accept a full reservation")
	}
}
