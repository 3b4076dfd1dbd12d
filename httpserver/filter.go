package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"
)

// Default priorities. Authentication filters run before everything else.
const (
	PriorityDefault = 10
	PriorityAuth    = 100
)

// Filter is a self-contained request gatekeeper. Handle returning 0 means
// "not my concern, continue"; any non-zero return is an HTTP status that
// has already been written to the client and terminates the chain.
type Filter interface {
	Name() string
	Priority() int
	Enabled() bool

	// Port restricts the filter to one listening port; 0 means all ports.
	Port() int

	Match(path string) bool
	Handle(w http.ResponseWriter, r *http.Request, clientIP string) int
}

// FilterConfig carries the settings every filter understands.
type FilterConfig struct {
	Disabled bool
	Port     int
	// URLPathRegexp selects the request paths the filter applies to.
	// Empty means every path.
	URLPathRegexp string
	// MaxRate caps requests per source IP within MaxRatePeriod. Zero
	// disables rate limiting.
	MaxRate       int
	MaxRatePeriod time.Duration
}

// filterBase implements the bookkeeping shared by the concrete filters.
type filterBase struct {
	name     string
	priority int
	port     int
	pathRe   *regexp.Regexp
	disabled atomic.Bool
	limiter  *ipRateLimiter
	logger   *slog.Logger
}

func newFilterBase(name string, priority int, cfg FilterConfig, logger *slog.Logger) (*filterBase, error) {
	f := &filterBase{
		name:     name,
		priority: priority,
		port:     cfg.Port,
		logger:   logger.With("filter", name),
	}
	f.disabled.Store(cfg.Disabled)

	if cfg.URLPathRegexp != "" && cfg.URLPathRegexp != ".*" {
		re, err := regexp.Compile("^" + cfg.URLPathRegexp + "$")
		if err != nil {
			return nil, fmt.Errorf("url_path_regexp: %w", err)
		}
		f.pathRe = re
	}

	if cfg.MaxRate > 0 {
		period := cfg.MaxRatePeriod
		if period <= 0 {
			period = 3600 * time.Second
		}
		f.limiter = newIPRateLimiter(cfg.MaxRate, period)
	}
	return f, nil
}

func (f *filterBase) Name() string  { return f.name }
func (f *filterBase) Priority() int { return f.priority }
func (f *filterBase) Port() int     { return f.port }

func (f *filterBase) Enabled() bool { return !f.disabled.Load() }

// disable turns the filter off for the remainder of the process lifetime.
func (f *filterBase) disable(reason string) {
	f.disabled.Store(true)
	f.logger.Error("filter disabled", "reason", reason)
}

func (f *filterBase) Match(path string) bool {
	if f.pathRe == nil {
		return true
	}
	return f.pathRe.MatchString(path)
}

// rateLimited answers 429 when the source IP exceeded its budget. It runs
// before any credential work so abusive peers stay cheap.
func (f *filterBase) rateLimited(w http.ResponseWriter, clientIP string) bool {
	if f.limiter == nil || clientIP == "" {
		return false
	}
	if f.limiter.allow(clientIP) {
		return false
	}
	f.logger.Info("rate limit exceeded", "client", clientIP)
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	return true
}
