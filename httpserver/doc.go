// Package httpserver is the inbound side of the agent protocol: an HTTP
// listener fronted by an ordered chain of independent security filters.
//
// Filters are veto gates, not an allow-list. Each registered filter has a
// priority (higher runs earlier), an enabled flag, a URL path pattern and
// per-source-IP rate limiting. Dispatch walks the chain in priority order;
// the first filter to return a non-zero HTTP status has already written the
// response and terminates the request. When every filter defers (returns 0)
// the request reaches the generic envelope handler.
//
// A filter that is enabled but misconfigured disables itself permanently
// and logs the reason; it never silently waves traffic through, and it
// never takes the listener down with it.
package httpserver
