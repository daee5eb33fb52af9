package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig describes the Redis server shared by a fleet of verifiers.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache records nonces with SET NX so that every verifier sharing the
// server sees a nonce at most once.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("replay: connect to redis: %w", err)
	}

	c := NewRedisCacheFromClient(rdb, cfg.KeyPrefix, cfg.TTL)
	c.owned = true
	return c, nil
}

// NewRedisCacheFromClient uses an existing client. Close leaves it open.
func NewRedisCacheFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Record stores nonce with the cache TTL if it is not already present.
func (c *RedisCache) Record(ctx context.Context, nonce string) (bool, error) {
	if err := validNonce(nonce); err != nil {
		return false, err
	}
	ok, err := c.rdb.SetNX(ctx, c.prefix+nonce, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: record nonce: %w", err)
	}
	return ok, nil
}

// Close closes the client when the cache created it.
func (c *RedisCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.rdb.Close()
}
