package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Expected miss on empty cache")
	}
	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	val, ok := c.Get(ctx, "k")
	if !ok || val != "v" {
		t.Errorf("Expected hit with v, got %q %v", val, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("PRESTAYA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRESTAYA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedisCache(addr, time.Minute)
	defer c.Close()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Redis unreachable: %v", err)
	}

	key := "prestaya:test:" + uuid.NewString()
	if err := c.Set(ctx, key, "schedule"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if val, ok := c.Get(ctx, key); !ok || val != "schedule" {
		t.Errorf("Expected hit with schedule, got %q %v", val, ok)
	}
}
