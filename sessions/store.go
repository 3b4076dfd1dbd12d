package sessions

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/probeops/agentgate/storage"
)

const persistPrefix = "sessions:"

// Store owns every live Session. Sessions are low-cardinality relative to
// request rate, so a single coarse lock around the map is deliberate.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	logger  *slog.Logger
	persist storage.Store
	timeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the slog logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(st *Store) {
		if logger != nil {
			st.logger = logger
		}
	}
}

// WithPersistence attaches a storage backend used by Save and Restore so
// session state survives a process restart.
func WithPersistence(backend storage.Store) StoreOption {
	return func(st *Store) { st.persist = backend }
}

// WithTimeout overrides the default sliding expiration window applied to
// new sessions.
func WithTimeout(timeout time.Duration) StoreOption {
	return func(st *Store) {
		if timeout > 0 {
			st.timeout = timeout
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// CreateOrRestore returns the live session known under id, or allocates a
// new one. A supplied id that maps to an expired session is treated as
// unknown. Returning an existing session refreshes nothing.
func (st *Store) CreateOrRestore(id string) *Session {
	if id != "" {
		st.mu.RLock()
		s, ok := st.sessions[id]
		st.mu.RUnlock()
		if ok && !s.Expired() {
			return s
		}
	}

	s := newSession(id, st.timeout, st.logger)
	st.mu.Lock()
	st.sessions[s.SID()] = s
	st.mu.Unlock()
	return s
}

// Lookup returns the live session under id, or nil when unknown or expired.
func (st *Store) Lookup(id string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || s.Expired() {
		return nil
	}
	return s
}

// Authorize verifies a challenge-response digest for the session known
// under id. Unknown and expired sessions fail closed.
func (st *Store) Authorize(id, token, payload string) bool {
	s := st.Lookup(id)
	if s == nil {
		return false
	}
	return s.Authorized(token, payload)
}

// Remove deletes the session known under id, including any persisted copy.
func (st *Store) Remove(ctx context.Context, id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
	if st.persist != nil {
		if err := st.persist.Delete(ctx, persistPrefix+id); err != nil {
			st.logger.Error("failed to delete persisted session", "sid", id, "err", err)
		}
	}
}

// Len returns the number of tracked sessions, expired ones included until
// the next sweep.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops expired sessions. Candidates are collected from a snapshot
// first and re-checked under the write lock, so a session grabbed by an
// in-flight request is never mutated, only unlinked.
func (st *Store) Sweep(ctx context.Context) int {
	st.mu.RLock()
	candidates := make([]string, 0)
	for id, s := range st.sessions {
		if s.Expired() {
			candidates = append(candidates, id)
		}
	}
	st.mu.RUnlock()

	removed := 0
	for _, id := range candidates {
		st.mu.Lock()
		if s, ok := st.sessions[id]; ok && s.Expired() {
			delete(st.sessions, id)
			removed++
		}
		st.mu.Unlock()
		if st.persist != nil {
			_ = st.persist.Delete(ctx, persistPrefix+id)
		}
	}
	if removed > 0 {
		st.logger.Debug("session sweep", "removed", removed)
	}
	return removed
}

// RunSweeper periodically sweeps expired sessions until ctx is canceled.
func (st *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep(ctx)
		}
	}
}

// Save persists every live session through the configured backend. Expired
// sessions are skipped. A nil backend is a no-op.
func (st *Store) Save(ctx context.Context) error {
	if st.persist == nil {
		return nil
	}

	st.mu.RLock()
	snapshot := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		snapshot = append(snapshot, s)
	}
	st.mu.RUnlock()

	for _, s := range snapshot {
		if s.Expired() {
			continue
		}
		raw, err := s.Dump()
		if err != nil {
			st.logger.Error("failed to dump session", "sid", s.SID(), "err", err)
			continue
		}
		ttl := s.timeout
		if err := st.persist.Set(ctx, persistPrefix+s.SID(), raw, storage.WithTTL(ttl)); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads persisted sessions into the store, discarding expired ones.
// Live in-memory sessions win over persisted state.
func (st *Store) Restore(ctx context.Context) error {
	if st.persist == nil {
		return nil
	}

	keys, err := st.persist.List(ctx, persistPrefix)
	if err != nil {
		return err
	}

	restored, expired := 0, 0
	for _, key := range keys {
		item, err := st.persist.Get(ctx, key)
		if err != nil || item == nil {
			continue
		}
		sid := key[len(persistPrefix):]
		s, err := restoreSession(sid, item.Data, st.logger)
		if err != nil {
			st.logger.Error("failed to restore session", "sid", sid, "err", err)
			continue
		}
		if s.Expired() {
			expired++
			continue
		}
		st.mu.Lock()
		if _, exists := st.sessions[sid]; !exists {
			st.sessions[sid] = s
			restored++
		}
		st.mu.Unlock()
	}
	st.logger.Debug("restored sessions", "restored", restored, "expired", expired)
	return nil
}
