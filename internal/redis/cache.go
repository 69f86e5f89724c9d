package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RankingCache stores rendered ranking payloads per ranklist
type RankingCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRankingCache creates a Redis-backed ranking cache
func NewRankingCache(cfg *config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*RankingCache, error) {
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

	return NewRankingCacheWithClient(client, ttl, logger), nil
}

// NewRankingCacheWithClient wraps an existing client
func NewRankingCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RankingCache {
	return &RankingCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *RankingCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *RankingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// rankingKey returns the Redis key for a ranklist's cached ranking
func rankingKey(rankListID int64) string {
	return fmt.Sprintf("ranklist:%d:ranking", rankListID)
}

// GetRanking returns the cached ranking. ok is false on a miss.
func (c *RankingCache) GetRanking(ctx context.Context, rankListID int64) (*domain.RankingData, bool, error) {
	raw, err := c.client.Get(ctx, rankingKey(rankListID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting cached ranking: %w", err)
	}

	var data domain.RankingData
	if err := json.Unmarshal(raw, &data); err != nil {
		// A payload from an older layout is treated as a miss and overwritten.
		c.logger.Warn("discarding undecodable cached ranking", "ranklist_id", rankListID, "error", err)
		return nil, false, nil
	}
	return &data, true, nil
}

// SetRanking stores a ranking with the configured TTL
func (c *RankingCache) SetRanking(ctx context.Context, data *domain.RankingData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling ranking: %w", err)
	}
	if err := c.client.Set(ctx, rankingKey(data.RankList.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching ranking: %w", err)
	}
	return nil
}

// Invalidate drops the cached rankings of the given ranklists
func (c *RankingCache) Invalidate(ctx context.Context, rankListIDs ...int64) error {
	if len(rankListIDs) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, id := range rankListIDs {
		pipe.Del(ctx, rankingKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidating rankings: %w", err)
	}
	return nil
}
