package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probeops/agentgate/auth"
)

// DefaultTimeout is the sliding expiration window applied when the caller
// does not specify one.
const DefaultTimeout = 600 * time.Second

const nonceBytes = 32

// Session is the authentication state for one peer. All methods are safe
// for concurrent use.
type Session struct {
	mu sync.Mutex

	sid       string
	nonce     string
	lastTouch time.Time
	timeout   time.Duration
	info      string

	data      map[string]any // persisted by Dump
	transient map[string]any // never persisted

	logger *slog.Logger
}

// sessionDump is the flat persisted form of a session.
type sessionDump struct {
	Nonce     string         `json:"nonce,omitempty"`
	LastTouch int64          `json:"last_touch"`
	Timeout   int64          `json:"timeout"`
	Info      string         `json:"infos,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func newSession(sid string, timeout time.Duration, logger *slog.Logger) *Session {
	if sid == "" {
		sid = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		sid:       sid,
		lastTouch: time.Now(),
		timeout:   timeout,
		data:      make(map[string]any),
		transient: make(map[string]any),
		logger:    logger,
	}
}

// SID returns the session identifier.
func (s *Session) SID() string { return s.sid }

// Expired reports whether the sliding expiration window has lapsed.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Session) expiredLocked() bool {
	return time.Now().After(s.lastTouch.Add(s.timeout))
}

// Nonce returns the session nonce, generating it on first use from a
// cryptographically secure source. A generation failure is logged once and
// leaves the nonce empty, which makes every later authorization fail.
func (s *Session) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nonce != "" {
		return s.nonce
	}
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		s.logger.Error("nonce generation failed", "sid", s.sid, "err", err)
		return ""
	}
	s.nonce = base64.StdEncoding.EncodeToString(buf)
	return s.nonce
}

// ResetNonce clears the cached nonce so the next Nonce call issues a fresh
// challenge.
func (s *Session) ResetNonce() {
	s.mu.Lock()
	s.nonce = ""
	s.mu.Unlock()
}

// Authorized verifies a peer-supplied digest against the session nonce
// using auth.Digest. Any missing input, or an expired session, fails
// closed.
func (s *Session) Authorized(token, payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || payload == "" || s.nonce == "" {
		return false
	}
	if s.expiredLocked() {
		s.logger.Debug("authorization against expired session", "sid", s.sid)
		return false
	}
	return auth.Digest(s.nonce, token) == payload
}

// Set stores a persisted data entry and refreshes the sliding timer.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = time.Now()
	if key == "" {
		return
	}
	s.data[key] = value
}

// Get returns a persisted data entry and refreshes the sliding timer.
func (s *Session) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = time.Now()
	if key == "" {
		return nil
	}
	return s.data[key]
}

// Delete removes a persisted data entry and refreshes the sliding timer.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = time.Now()
	delete(s.data, key)
}

// Keep stores a transient entry. Transient entries never appear in Dump and
// do not refresh the timer.
func (s *Session) Keep(key string, value any) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.transient[key] = value
	s.mu.Unlock()
}

// Kept returns a transient entry.
func (s *Session) Kept(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transient[key]
}

// Forget removes a transient entry.
func (s *Session) Forget(key string) {
	s.mu.Lock()
	delete(s.transient, key)
	s.mu.Unlock()
}

// SetInfo records a free-form description of the session.
func (s *Session) SetInfo(info string) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// Info returns the session description including its identifier and the
// absolute expiration time.
func (s *Session) Info() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sid
	if s.info != "" {
		out += " ; " + s.info
	}
	return fmt.Sprintf("%s ; expiration on %s", out, s.lastTouch.Add(s.timeout).Format(time.ANSIC))
}

// Dump serializes the persistable session state as a flat JSON object.
// Transient entries are excluded.
func (s *Session) Dump() ([]byte, error) {
	s.mu.Lock()
	dump := sessionDump{
		Nonce:     s.nonce,
		LastTouch: s.lastTouch.Unix(),
		Timeout:   int64(s.timeout / time.Second),
		Info:      s.info,
	}
	if len(s.data) > 0 {
		dump.Data = make(map[string]any, len(s.data))
		for k, v := range s.data {
			dump.Data[k] = v
		}
	}
	s.mu.Unlock()
	return json.Marshal(dump)
}

// restoreSession rebuilds a session from its persisted dump.
func restoreSession(sid string, raw []byte, logger *slog.Logger) (*Session, error) {
	var dump sessionDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sid, err)
	}
	timeout := time.Duration(dump.Timeout) * time.Second
	s := newSession(sid, timeout, logger)
	s.nonce = dump.Nonce
	s.info = dump.Info
	if dump.LastTouch > 0 {
		s.lastTouch = time.Unix(dump.LastTouch, 0)
	}
	for k, v := range dump.Data {
		s.data[k] = v
	}
	return s, nil
}
