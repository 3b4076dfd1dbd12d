// Package memory provides the in-memory storage.Store used by default and
// in tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/probeops/agentgate/storage"
)

// Store implements storage.Store with a mutex-guarded map. Expired entries
// are dropped lazily on read and listing.
type Store struct {
	mu    sync.RWMutex
	items map[string]*storage.Item
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]*storage.Item)}
}

// Get retrieves the value for key, or (nil, nil) when missing or expired.
func (s *Store) Get(ctx context.Context, key string) (*storage.Item, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, nil
	}
	// Copy so callers never share bytes with the map.
	cp := *item
	cp.Data = append([]byte(nil), item.Data...)
	return &cp, nil
}

// Set stores data under key, honoring an optional TTL.
func (s *Store) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	var options storage.Options
	for _, opt := range opts {
		opt(&options)
	}

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// List returns every live key starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k, item := range s.items {
		if strings.HasPrefix(k, prefix) && !item.IsExpired() {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	return keys, nil
}

// Close discards all stored items.
func (s *Store) Close() error {
	s.mu.Lock()
	s.items = make(map[string]*storage.Item)
	s.mu.Unlock()
	return nil
}

var _ storage.Store = (*Store)(nil)
