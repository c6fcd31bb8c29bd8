package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omichsam/twitter-post-feeds/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache key prefixes
const (
	KeyAccountID = "feeds:account:id"
)

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// Otherwise fall back to a process-local map
	mem *memoryStore

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to redis at addr. An empty addr, or a server that does
// not answer a ping, yields an in-memory cache instead of an error.
func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if addr == "" {
		return newMemoryCache(logger, m), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache", "addr", addr, "error", err)
		}
		client.Close()
		return newMemoryCache(logger, m), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: m,
	}, nil
}

func newMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	return &Cache{
		mem:     newMemoryStore(time.Now),
		logger:  logger,
		metrics: m,
	}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			c.metrics.RecordCacheMiss(ctx, key)
			return ErrCacheMiss
		}
		if err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache get error", "key", key, "error", err)
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, ok := c.mem.get(key)
		if !ok {
			c.metrics.RecordCacheMiss(ctx, key)
			return ErrCacheMiss
		}
		data = val
	}

	c.metrics.RecordCacheHit(ctx, key)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache set error", "key", key, "error", err)
			}
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}

	c.mem.set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}

	c.mem.del(keys...)
	return nil
}

func accountIDKey(username string) string {
	return fmt.Sprintf("%s:%s", KeyAccountID, username)
}

func (c *Cache) GetAccountID(ctx context.Context, username string) (string, error) {
	var id string
	if err := c.Get(ctx, accountIDKey(username), &id); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Cache) SetAccountID(ctx context.Context, username, id string, ttl time.Duration) error {
	return c.Set(ctx, accountIDKey(username), id, ttl)
}

func (c *Cache) DeleteAccountID(ctx context.Context, username string) error {
	return c.Delete(ctx, accountIDKey(username))
}

// IsInMemoryMode returns true if the cache is running in in-memory mode
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
