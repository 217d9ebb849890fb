package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend using Redis.
// Each namespace is a single string key holding the encoded collection,
// which makes it suitable for several service replicas sharing users.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all namespace keys (default: "scanstore:").
	Prefix string `yaml:"prefix"`
	// TTL is the key expiry duration, refreshed on every save (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

const defaultRedisPrefix = "scanstore:"

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Close client to release connection pool resources
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) key(namespace string) string {
	return b.prefix + namespace
}

func (b *RedisBackend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Load reads the collection stored under namespace.
func (b *RedisBackend) Load(ctx context.Context, namespace string) (*Collection, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}

	data, err := b.client.Get(ctx, b.key(namespace)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	return Unmarshal(namespace, data)
}

// Save overwrites the collection stored under namespace.
func (b *RedisBackend) Save(ctx context.Context, namespace string, c *Collection) error {
	if b.isClosed() {
		return ErrStorageClosed
	}

	data, err := Marshal(c)
	if err != nil {
		return persistErr(b, namespace, err)
	}

	if err := b.client.Set(ctx, b.key(namespace), data, b.ttl).Err(); err != nil {
		return persistErr(b, namespace, err)
	}
	return nil
}

// Delete removes the namespace key.
func (b *RedisBackend) Delete(ctx context.Context, namespace string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	if err := b.client.Del(ctx, b.key(namespace)).Err(); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}
