package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dotabod/billing/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the injected short-TTL cache used for request deduplication and
// subscription status lookups. Implementations must be safe for concurrent
// use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

var defaultCache Cache

// Setup creates the process-wide cache from environment configuration: Redis
// when CACHE_HOST is set, a bounded in-memory cache otherwise.
func Setup() Cache {
	defaultCache = newFromEnv()
	return defaultCache
}

// GetCache returns the cache created by Setup. Callers before Setup get a
// bounded in-memory fallback.
func GetCache() Cache {
	if defaultCache == nil {
		defaultCache = NewMemory(4096)
	}
	return defaultCache
}

func newFromEnv() Cache {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		log.Print("CACHE_HOST not set, using in-memory cache")
		return NewMemory(4096)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("Warning: could not connect to cache server: %v", err)
	} else {
		log.Printf("Successfully connected to cache server: %s", pong)
	}

	return NewRedis(client)
}

type redisCache struct {
	client *redis.Client
}

// NewRedis wraps a go-redis client in the Cache interface.
func NewRedis(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *redisCache) Clear(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}
