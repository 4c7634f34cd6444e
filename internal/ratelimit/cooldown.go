// Package ratelimit gates manually triggered ingestion passes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Cooldown admits at most one action per key per interval.
type Cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryCooldown keeps one token bucket per key in process memory.
// State resets on restart and is not shared between instances.
type MemoryCooldown struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryCooldown creates an in-process cooldown.
func NewMemoryCooldown(interval time.Duration) *MemoryCooldown {
	return &MemoryCooldown{
		interval: interval,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether key may fire now, consuming the slot if so.
func (c *MemoryCooldown) Allow(_ context.Context, key string) (bool, error) {
	if c.interval <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.interval), 1)
		c.limiters[key] = l
	}
	return l.AllowN(c.now(), 1), nil
}

// RedisCooldown shares the cooldown across instances with SET NX PX.
type RedisCooldown struct {
	client   *redis.Client
	interval time.Duration
	prefix   string
}

// NewRedisCooldown connects to Redis at addr.
func NewRedisCooldown(addr, password string, db int, interval time.Duration) *RedisCooldown {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCooldown{client: rdb, interval: interval, prefix: "sludgewire:cooldown:"}
}

// Allow sets the key only if it is absent; the expiry ends the cooldown.
func (c *RedisCooldown) Allow(ctx context.Context, key string) (bool, error) {
	if c.interval <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, c.prefix+key, time.Now().UTC().Format(time.RFC3339), c.interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis cooldown: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (c *RedisCooldown) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCooldown) Close() error {
	return c.client.Close()
}
