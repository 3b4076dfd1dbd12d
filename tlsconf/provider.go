package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrFingerprintMismatch is returned from the TLS handshake when a pinned
// client rejects the peer's leaf certificate.
var ErrFingerprintMismatch = errors.New("peer certificate fingerprint not pinned")

// ServerConfig describes the inbound TLS material.
type ServerConfig struct {
	// CertFile holds the certificate chain. When KeyFile is empty the key
	// is expected in the same (combined) PEM file.
	CertFile string
	KeyFile  string
	// CipherPolicy optionally restricts cipher suites; names separated by
	// ":" or ",", matched case-insensitively against Go's suite names.
	CipherPolicy string
}

// Build loads the certificate material into a server-side tls.Config. Any
// loading problem is an error: the caller is expected to fail closed rather
// than listen in plaintext.
func (c ServerConfig) Build(logger *slog.Logger) (*tls.Config, error) {
	if c.CertFile == "" {
		return nil, errors.New("no certificate file configured")
	}
	keyFile := c.KeyFile
	if keyFile == "" {
		keyFile = c.CertFile
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.CipherPolicy != "" {
		suites := parseCipherPolicy(c.CipherPolicy, logger)
		if len(suites) == 0 {
			return nil, fmt.Errorf("cipher policy %q matches no supported suite", c.CipherPolicy)
		}
		cfg.CipherSuites = suites
	}
	return cfg, nil
}

func parseCipherPolicy(policy string, logger *slog.Logger) []uint16 {
	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[strings.ToUpper(suite.Name)] = suite.ID
	}

	var ids []uint16
	for _, name := range strings.FieldsFunc(policy, func(r rune) bool { return r == ':' || r == ',' }) {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		id, ok := known[name]
		if !ok {
			if logger != nil {
				logger.Warn("unknown cipher suite in policy", "name", name)
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ClientConfig describes the outbound TLS expectations.
type ClientConfig struct {
	// CAFile and CADir supply extra trust anchors for chain validation.
	CAFile string
	CADir  string
	// CertFile/KeyFile optionally present a client certificate. KeyFile
	// falls back to CertFile (combined PEM).
	CertFile string
	KeyFile  string
	// Fingerprints pins the peer's leaf certificate. When set, chain
	// validation is relaxed and a pin match is required instead.
	Fingerprints []string
	// SkipHostnameVerify keeps chain validation but ignores the hostname.
	SkipHostnameVerify bool
}

// Build assembles an outbound tls.Config.
func (c ClientConfig) Build(logger *slog.Logger) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CertFile != "" {
		keyFile := c.KeyFile
		if keyFile == "" {
			keyFile = c.CertFile
		}
		cert, err := tls.LoadX509KeyPair(c.CertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	pool, err := c.caPool()
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool

	if len(c.Fingerprints) > 0 {
		pins, err := ParseFingerprints(c.Fingerprints)
		if err != nil {
			return nil, err
		}
		// The pin is the trust anchor: disable chain validation and check
		// the leaf digest instead. A mismatch aborts the handshake.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("peer presented no certificate")
			}
			if !pins.MatchCert(rawCerts[0]) {
				if logger != nil {
					logger.Error("peer certificate fingerprint mismatch")
				}
				return ErrFingerprintMismatch
			}
			return nil
		}
		return cfg, nil
	}

	if c.SkipHostnameVerify {
		// Verify the chain manually but leave the hostname unchecked.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = chainOnlyVerifier(pool)
	}
	return cfg, nil
}

func chainOnlyVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("peer presented no certificate")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, raw := range rawCerts[1:] {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				continue
			}
			opts.Intermediates.AddCert(cert)
		}
		_, err = leaf.Verify(opts)
		return err
	}
}

// caPool builds the trust anchor pool from CAFile/CADir on top of the
// system roots. No configuration returns nil, meaning system roots only.
func (c ClientConfig) caPool() (*x509.CertPool, error) {
	if c.CAFile == "" && c.CADir == "" {
		return nil, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", c.CAFile)
		}
	}
	if c.CADir != "" {
		err := filepath.WalkDir(c.CADir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			pool.AppendCertsFromPEM(pem)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read ca dir: %w", err)
		}
	}
	return pool, nil
}
