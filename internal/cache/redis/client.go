// Package redis caches structuring results so re-submitting the same user
// text does not pay the tens-of-seconds upstream call twice. The cache is
// optional: a nil *Client is a no-op.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/logger"
)

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

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) SetStructured(ctx context.Context, textHash string, content models.StructuredContent) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal structured content: %w", err)
	}

	err = c.client.Set(ctx, "structured:"+textHash, data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set structured cache: %w", err)
	}

	logger.Debug("Structuring result cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetStructured(ctx context.Context, textHash string) (models.StructuredContent, bool, error) {
	if c == nil {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, "structured:"+textHash).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("structured").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get structured cache: %w", err)
	}

	var content models.StructuredContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal structured cache: %w", err)
	}

	metrics.CacheHits.WithLabelValues("structured").Inc()
	logger.Debug("Structuring cache hit", zap.String("text_hash", textHash))
	return content, true, nil
}
