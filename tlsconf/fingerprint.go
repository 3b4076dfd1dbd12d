package tlsconf

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	sha1HexLen   = 40
	sha256HexLen = 64
)

// Pinset is a normalized set of acceptable leaf certificate fingerprints.
type Pinset struct {
	pins map[string]struct{}
}

// ParseFingerprints normalizes and validates a list of certificate
// fingerprints. Accepted input is SHA-1 or SHA-256 hex, case-insensitive,
// with or without colon separators. Anything else is an error.
func ParseFingerprints(fingerprints []string) (*Pinset, error) {
	pins := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		normalized := normalizeFingerprint(fp)
		if len(normalized) != sha1HexLen && len(normalized) != sha256HexLen {
			return nil, fmt.Errorf("fingerprint %q: not a SHA-1 or SHA-256 digest", fp)
		}
		if _, err := hex.DecodeString(normalized); err != nil {
			return nil, fmt.Errorf("fingerprint %q: %w", fp, err)
		}
		pins[normalized] = struct{}{}
	}
	if len(pins) == 0 {
		return nil, fmt.Errorf("no fingerprints given")
	}
	return &Pinset{pins: pins}, nil
}

func normalizeFingerprint(fp string) string {
	fp = strings.ReplaceAll(fp, ":", "")
	fp = strings.ReplaceAll(fp, " ", "")
	return strings.ToLower(fp)
}

// MatchCert reports whether the DER-encoded certificate matches one of the
// pinned fingerprints under either hash algorithm. The comparison is an
// exact set membership test.
func (p *Pinset) MatchCert(der []byte) bool {
	s256 := sha256.Sum256(der)
	if _, ok := p.pins[hex.EncodeToString(s256[:])]; ok {
		return true
	}
	s1 := sha1.Sum(der)
	_, ok := p.pins[hex.EncodeToString(s1[:])]
	return ok
}

// Len returns the number of distinct pinned fingerprints.
func (p *Pinset) Len() int { return len(p.pins) }
