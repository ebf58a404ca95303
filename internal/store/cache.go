package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gocollab/internal/access"
)

// CacheStats tracks decision cache statistics.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// CachedPermissions is a cache-aside decorator that remembers permission
// decisions in Redis for a short TTL. Redis failures fall through to the
// wrapped store; store errors are never cached.
type CachedPermissions struct {
	next   access.PermissionStore
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", opts.Addr)
	return client, nil
}

// NewCachedPermissions wraps next with a Redis decision cache.
func NewCachedPermissions(next access.PermissionStore, client *redis.Client, prefix string, ttl time.Duration) *CachedPermissions {
	if prefix == "" {
		prefix = "access:"
	}
	return &CachedPermissions{next: next, client: client, prefix: prefix, ttl: ttl}
}

// CanAccessFile implements access.PermissionStore.
func (c *CachedPermissions) CanAccessFile(ctx context.Context, userID, fileID string) (bool, error) {
	return c.lookup(ctx, "file:"+fileID+":"+userID, func() (bool, error) {
		return c.next.CanAccessFile(ctx, userID, fileID)
	})
}

// IsTeamMember implements access.PermissionStore.
func (c *CachedPermissions) IsTeamMember(ctx context.Context, userID, teamID string) (bool, error) {
	return c.lookup(ctx, "team:"+teamID+":"+userID, func() (bool, error) {
		return c.next.IsTeamMember(ctx, userID, teamID)
	})
}

// IsProjectMember implements access.PermissionStore.
func (c *CachedPermissions) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	return c.lookup(ctx, "project:"+projectID+":"+userID, func() (bool, error) {
		return c.next.IsProjectMember(ctx, userID, projectID)
	})
}

// Stats returns a snapshot of the cache counters.
func (c *CachedPermissions) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.failures.Load(),
	}
}

func (c *CachedPermissions) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	fullKey := c.prefix + key

	val, err := c.client.Get(ctx, fullKey).Result()
	switch {
	case err == nil:
		c.hits.Add(1)
		return val == "1", nil
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
	default:
		c.failures.Add(1)
		slog.Debug("access cache get failed", "key", fullKey, "error", err)
	}

	allowed, err := load()
	if err != nil {
		return false, err
	}

	val = "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, fullKey, val, c.ttl).Err(); err != nil {
		c.failures.Add(1)
		slog.Debug("access cache set failed", "key", fullKey, "error", err)
	}
	return allowed, nil
}
