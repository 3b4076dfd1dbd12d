package httpserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter tracks one token bucket per source IP. The bucket holds
// maxRate tokens and refills over the configured period, which bounds any
// window of that length to roughly maxRate requests.
type ipRateLimiter struct {
	mu      sync.Mutex
	peers   map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	lastGC  time.Time
	maxIdle time.Duration
}

func newIPRateLimiter(maxRate int, period time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		peers:   make(map[string]*rate.Limiter),
		limit:   rate.Every(period / time.Duration(maxRate)),
		burst:   maxRate,
		lastGC:  time.Now(),
		maxIdle: 2 * period,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.peers[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.peers[ip] = lim
	}
	// Drop the whole table occasionally so one-shot scanners don't pin
	// memory forever. Buckets refill fast enough that this is harmless.
	if time.Since(l.lastGC) > l.maxIdle && len(l.peers) > 1024 {
		l.peers = map[string]*rate.Limiter{ip: lim}
		l.lastGC = time.Now()
	}
	l.mu.Unlock()
	return lim.Allow()
}
