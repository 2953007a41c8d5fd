// Package redis holds the read-side caches: versioned challenge snapshots
// for pollers and the per-auction bidder board.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
	"github.com/redis/go-redis/v9"
)

// putIfNewer writes a snapshot only when its version is above the cached one,
// so a slow writer can never replace a newer combat state with an older one.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Cache provides Redis-backed read caches
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a new Redis cache
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    cfg.SnapshotTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// challengeKey returns the Redis key for a challenge snapshot
func challengeKey(challengeID string) string {
	return fmt.Sprintf("challenge:%s:snapshot", challengeID)
}

// PutChallenge caches a challenge unless a newer version is already cached
func (c *Cache) PutChallenge(ctx context.Context, ch *domain.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshaling challenge: %w", err)
	}
	written, err := putIfNewer.Run(ctx, c.client,
		[]string{challengeKey(ch.ID)},
		ch.Version, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("caching challenge: %w", err)
	}
	if written == 0 {
		c.logger.Debug("skipped stale challenge snapshot", "challenge_id", ch.ID, "version", ch.Version)
	}
	return nil
}

// EvictChallenge drops a challenge snapshot
func (c *Cache) EvictChallenge(ctx context.Context, challengeID string) error {
	if err := c.client.Del(ctx, challengeKey(challengeID)).Err(); err != nil {
		return fmt.Errorf("evicting challenge: %w", err)
	}
	return nil
}

// GetChallenge returns a cached challenge, or nil on a miss
func (c *Cache) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	data, err := c.client.HGet(ctx, challengeKey(challengeID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting cached challenge: %w", err)
	}
	var ch domain.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decoding cached challenge: %w", err)
	}
	return &ch, nil
}
