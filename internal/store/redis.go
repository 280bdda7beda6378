package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/ndn"
)

// RedisStore keeps records as redis string values under prefix + name URI.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to the configured redis server.
func NewRedisStore(cfg config.RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL)
}

// NewRedisStoreWithClient wraps an existing client. A zero ttl keeps
// records forever.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(name ndn.Name) string {
	return s.prefix + name.String()
}

func (s *RedisStore) Put(ctx context.Context, d *ndn.Data) error {
	raw, err := encodeRecord(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(d.Name), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put %s: %w", d.Name, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	raw, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return decodeRecord(raw, name)
}

func (s *RedisStore) Delete(ctx context.Context, name ndn.Name) error {
	n, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if n == 0 {
		return notFound(name)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) Close() error {
	return s.client.Close()
}
