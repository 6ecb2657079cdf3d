package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boletin/backend/pkg/logger"
)

const statsPrefix = "boletin:stats:"

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetStats caches computed statistics under the content hash of the sheet
// they were computed from.
func (c *Client) SetStats(ctx context.Context, contentHash string, stats interface{}) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = c.client.Set(ctx, statsPrefix+contentHash, data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	logger.Debug("Stats cached", zap.String("hash", contentHash), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetStats(ctx context.Context, contentHash string, stats interface{}) (bool, error) {
	data, err := c.client.Get(ctx, statsPrefix+contentHash).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get stats cache: %w", err)
	}

	err = json.Unmarshal(data, stats)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	logger.Debug("Stats cache hit", zap.String("hash", contentHash))
	return true, nil
}

// InvalidateStats drops every cached statistics entry.
func (c *Client) InvalidateStats(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, statsPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Stats cache invalidated")
	return nil
}
