// Package httpclient is the outbound side of the agent protocol: it probes
// the peer for a nonce, proves possession of the shared token with a
// challenge-response digest, and exchanges envelope messages over HTTP or
// pinned TLS. Requests are never retried automatically; callers decide
// whether an error is worth another attempt.
package httpclient
