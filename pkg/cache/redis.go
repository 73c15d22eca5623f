package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logflow/oplog/pkg/analysis"
	oerrors "github.com/logflow/oplog/pkg/errors"
)

// RedisConfig configures the Redis report cache.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all report keys (e.g., "oplog:report:")
	Prefix string

	// TTL is the time-to-live for reports (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "oplog:report:",
		TTL:     24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// RedisCache stores encoded reports in Redis.
type RedisCache struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to connect to Redis").
			WithContext("addr", cfg.Address)
	}

	return &RedisCache{cfg: cfg, client: client}, nil
}

func (c *RedisCache) key(k string) string {
	return c.cfg.Prefix + k
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*analysis.Report, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to load report from Redis")
	}

	r, err := decode(data)
	if err != nil {
		// A report from an incompatible build is a miss, not a failure.
		return nil, false, nil
	}
	return r, true, nil
}

// Put implements Cache. The report and its index entry are written in one
// pipeline.
func (c *RedisCache) Put(ctx context.Context, key string, r *analysis.Report) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.key(key), data, c.cfg.TTL)
	pipe.SAdd(ctx, c.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to save report to Redis")
	}
	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.key(key))
	pipe.SRem(ctx, c.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to delete report from Redis")
	}
	return nil
}

// Purge deletes every report this prefix has stored and returns how many
// were removed.
func (c *RedisCache) Purge(ctx context.Context) (int, error) {
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to list cached reports")
	}
	if len(keys) == 0 {
		return 0, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	pipe := c.client.Pipeline()
	del := pipe.Del(ctx, full...)
	pipe.Del(ctx, c.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, oerrors.Wrap(err, oerrors.CodeCacheFailed, "failed to purge cached reports")
	}
	return int(del.Val()), nil
}

// indexKey is the set of report keys written under the prefix.
func (c *RedisCache) indexKey() string {
	return c.cfg.Prefix + "index"
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
