// Package auth carries the credential checks shared by the request filters:
// HTTP Basic credential verification (plain or bcrypt-hashed passwords) and
// the challenge values returned to unauthenticated peers.
//
// Authentication failures map to well-defined HTTP statuses (401, 403),
// never to a 5xx: a peer that cannot prove its identity is rejected, not
// treated as a server fault.
package auth
