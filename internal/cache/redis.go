// Package cache keeps the latest safety-index record per intersection in
// Redis for downstream dashboards. The cache is an optional collaborator:
// a nil *Cache is a no-op, and publish failures are logged, never fatal.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-mobility/safetyindex/internal/store"
)

const (
	// Channel carries every newly computed record.
	Channel = "safety:index:live"

	keyPrefix  = "safety:index:latest:"
	defaultTTL = 15 * time.Minute
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

// PublishRecord stores rec as the intersection's latest score and fans it
// out on the live channel.
func (c *Cache) PublishRecord(ctx context.Context, rec *store.SafetyIndexRecord) {
	if c == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("marshal index record", "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+rec.IntersectionID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "intersection", rec.IntersectionID, "error", err)
	}
	if err := c.client.Publish(ctx, Channel, data).Err(); err != nil {
		c.logger.Warn("cache publish failed", "intersection", rec.IntersectionID, "error", err)
	}
}

// Latest returns the cached record for an intersection, or nil on a miss.
func (c *Cache) Latest(ctx context.Context, intersectionID string) (*store.SafetyIndexRecord, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, keyPrefix+intersectionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &store.SafetyIndexRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	return rec, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
