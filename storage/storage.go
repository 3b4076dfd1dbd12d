// Package storage defines the flat key-value persistence contract used to
// carry session state across process restarts.
package storage

import (
	"context"
	"time"
)

// Item is a stored value with its bookkeeping metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item's TTL has lapsed.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use. Get returns (nil, nil) for a missing or expired key;
// errors are reserved for genuine backend failures.
type Store interface {
	Get(ctx context.Context, key string) (*Item, error)
	Set(ctx context.Context, key string, data []byte, opts ...Option) error
	Delete(ctx context.Context, key string) error

	// List returns every live key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Option configures a Set operation.
type Option func(*Options)

// Options holds per-operation settings.
type Options struct {
	TTL *time.Duration
}

// WithTTL bounds the lifetime of the stored value.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}
