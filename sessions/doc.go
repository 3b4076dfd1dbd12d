// Package sessions tracks per-peer authentication state for the
// challenge-response scheme.
//
// A Session carries an unpredictable identifier, a lazily generated nonce,
// a sliding expiration timer and two key/value areas: data that survives a
// restart through a storage.Store, and transient data that never leaves the
// process. The Store hands out sessions keyed by a caller-chosen identifier
// (typically "{request-id}@[ip]") and sweeps expired ones in the background.
//
// Authorization never transports the shared secret: the peer proves
// possession by sending base64(SHA-256(nonce ++ "++" ++ token)), so a
// captured exchange cannot be replayed against a fresh nonce.
package sessions
