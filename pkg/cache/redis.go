package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ghuser/toolcrib/pkg/config"
)

// RedisClient wraps redis.Client with production-ready configuration.
// Every key written through the cache types is prefixed with namespace so
// several deployments can share one Redis.
type RedisClient struct {
	client    *redis.Client
	namespace string
}

// NewRedisClient creates a new Redis client with connection pooling and production-ready settings.
// It parses the Redis URL from config, applies pool settings, and verifies connectivity via Ping.
func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Connection pool settings
	// PoolSize: maximum number of connections in the pool
	opts.PoolSize = 10

	// MinIdleConns: minimum number of idle connections to keep open
	opts.MinIdleConns = 2

	// MaxRetries: maximum number of retries before giving up on a command
	opts.MaxRetries = 3

	// DialTimeout: timeout for establishing a new connection
	opts.DialTimeout = 5 * time.Second

	// ReadTimeout: timeout for socket reads
	opts.ReadTimeout = 3 * time.Second

	// WriteTimeout: timeout for socket writes
	opts.WriteTimeout = 3 * time.Second

	// PoolTimeout: timeout waiting for a connection from the pool
	opts.PoolTimeout = 4 * time.Second

	rdb := redis.NewClient(opts)

	// Verify connectivity with a 2s deadline
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisClient{client: rdb, namespace: cfg.ServiceName}, nil
}

// WrapRedisClient wraps an existing client. Used by tests and tools that
// manage their own connection.
func WrapRedisClient(rdb *redis.Client, namespace string) *RedisClient {
	return &RedisClient{client: rdb, namespace: namespace}
}

// Key joins parts with ':' under the client's namespace.
func (r *RedisClient) Key(parts ...string) string {
	if r.namespace == "" {
		return strings.Join(parts, ":")
	}
	return r.namespace + ":" + strings.Join(parts, ":")
}

// Ping checks the Redis connection health.
func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close gracefully shuts down the Redis connection pool.
func (r *RedisClient) Close() error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Client returns the underlying redis.Client for direct use.
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// ErrStaleSnapshot is returned by a write whose generation is no longer
// current: the entry was written or invalidated after the caller read the
// source of truth.
var ErrStaleSnapshot = errors.New("cache entry changed since snapshot")

// generation reads the counter at key; a missing key is generation 0.
func (r *RedisClient) generation(ctx context.Context, key string) (int64, error) {
	gen, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache generation: %w", err)
	}
	return gen, nil
}

// writeAt runs write in a MULTI/EXEC provided the counter at genKey still
// equals gen. genKey is WATCHed, so a concurrent bump aborts the transaction.
func (r *RedisClient) writeAt(ctx context.Context, genKey string, gen int64, write func(redis.Pipeliner)) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleSnapshot
	}
	return err
}
