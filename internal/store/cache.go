package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
)

const latestResultTTL = 24 * time.Hour

// Cache keeps the latest completed result per saved query in Redis so the
// API can serve it without touching Postgres.
type Cache struct {
	rdb *redis.Client
}

func NewCache(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%d): %w", cfg.Host, cfg.Port, err)
	}
	return &Cache{rdb: rdb}, nil
}

func NewCacheWithClient(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) Client() *redis.Client { return c.rdb }

func latestResultKey(savedQueryID string) string { return "research:latest:" + savedQueryID }

func (c *Cache) SetLatestResult(ctx context.Context, savedQueryID string, session research.Session) error {
	b, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, latestResultKey(savedQueryID), b, latestResultTTL).Err()
}

func (c *Cache) GetLatestResult(ctx context.Context, savedQueryID string) (research.Session, bool, error) {
	b, err := c.rdb.Get(ctx, latestResultKey(savedQueryID)).Bytes()
	if err == redis.Nil {
		return research.Session{}, false, nil
	}
	if err != nil {
		return research.Session{}, false, err
	}
	var sess research.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return research.Session{}, false, err
	}
	return sess, true, nil
}

// AcquireLock takes a short-lived distributed lock, used by the scheduler to
// keep replicas from firing the same saved query twice.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (c *Cache) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
