// Package tlsconf builds the transport security contexts used on both sides
// of the agent protocol: the inbound listener configuration (certificate
// chain, minimum protocol version, cipher policy) and the outbound client
// configuration (CA material, hostname verification toggle, certificate
// fingerprint pinning).
//
// Fingerprint pinning accepts SHA-256 or SHA-1 digests of the peer's leaf
// certificate, written with or without colon separators and in either case.
// A pin must match exactly; a prefix match is never accepted. When pins are
// configured, chain-of-trust validation is relaxed and the pin becomes the
// trust anchor.
package tlsconf
