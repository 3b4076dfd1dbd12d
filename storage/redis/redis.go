// Package redis provides a Redis-backed storage.Store so session state
// survives restarts and can be shared across listener instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/probeops/agentgate/storage"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis store. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: AGENTGATE_KEY_PREFIX
	KeyPrefix string `env:"AGENTGATE_KEY_PREFIX,default=agentgate:"`
}

// Store implements storage.Store on a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON structure persisted per key.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New builds a Store from an existing client. A nil client is an error.
func New(client *redis.Client, keyPrefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "agentgate:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config and verifies
// connectivity with a ping.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, cfg.KeyPrefix)
}

// Get retrieves key, or (nil, nil) when missing or expired.
func (s *Store) Get(ctx context.Context, key string) (*storage.Item, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var stored storedItem
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal stored item %s: %w", key, err)
	}

	item := &storage.Item{
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if item.IsExpired() {
		_ = s.client.Del(ctx, s.keyPrefix+key).Err()
		return nil, nil
	}
	return item, nil
}

// Set stores data under key. A TTL option is enforced both in the stored
// metadata and as the Redis key expiry.
func (s *Store) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	var options storage.Options
	for _, opt := range opts {
		opt(&options)
	}

	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}
	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		stored.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal stored item: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, raw, redisTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns every live key starting with prefix, with the store's key
// prefix stripped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.keyPrefix + prefix + "*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(s.keyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
