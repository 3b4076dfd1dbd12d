package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
)

// Chain dispatches requests across registered filters in descending
// priority order, ties broken by registration order.
type Chain struct {
	mu      sync.RWMutex
	filters []Filter
	logger  *slog.Logger
}

// NewChain creates an empty filter chain.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{logger: logger}
}

// Register adds a filter to the chain. Registration keeps the chain sorted
// by descending priority; filters sharing a priority keep their
// registration order.
func (c *Chain) Register(f Filter) {
	c.mu.Lock()
	c.filters = append(c.filters, f)
	sort.SliceStable(c.filters, func(i, j int) bool {
		return c.filters[i].Priority() > c.filters[j].Priority()
	})
	c.mu.Unlock()
	if !f.Enabled() {
		c.logger.Info("filter registered but disabled", "filter", f.Name())
		return
	}
	c.logger.Debug("filter registered", "filter", f.Name(), "priority", f.Priority())
}

// Filters returns a snapshot of the chain in dispatch order.
func (c *Chain) Filters() []Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Filter(nil), c.filters...)
}

// Dispatch runs the request through every enabled filter whose port and
// path match, highest priority first. The first non-zero status
// short-circuits the chain: the filter has already answered the client.
// 0 means every filter deferred and the generic handler should proceed.
func (c *Chain) Dispatch(w http.ResponseWriter, r *http.Request, clientIP string, port int) int {
	for _, f := range c.Filters() {
		if !f.Enabled() {
			continue
		}
		if p := f.Port(); p != 0 && port != 0 && p != port {
			continue
		}
		if !f.Match(r.URL.Path) {
			continue
		}
		if code := f.Handle(w, r, clientIP); code != 0 {
			c.logger.Debug("filter terminated request",
				"filter", f.Name(), "code", code, "path", r.URL.Path, "client", clientIP)
			return code
		}
	}
	return 0
}
