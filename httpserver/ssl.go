package httpserver

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"

	"github.com/probeops/agentgate/tlsconf"
)

// SSLConfig configures the TLS termination filter.
type SSLConfig struct {
	FilterConfig
	tlsconf.ServerConfig
}

// SSLFilter owns the listener's TLS material. Unlike the request filters it
// acts at accept time, not per request: when enabled the server wraps its
// listener with the filter's TLS configuration. A certificate that cannot
// be loaded disables the filter permanently; the listener then refuses to
// start in TLS mode rather than downgrade to plaintext.
type SSLFilter struct {
	*filterBase
	tlsConfig *tls.Config
	reloader  *tlsconf.CertReloader
}

// NewSSL builds the filter, loading and watching the certificate when
// enabled.
func NewSSL(cfg SSLConfig, logger *slog.Logger) (*SSLFilter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base, err := newFilterBase("ssl", PriorityDefault, cfg.FilterConfig, logger)
	if err != nil {
		return nil, err
	}

	f := &SSLFilter{filterBase: base}
	if !f.Enabled() {
		return f, nil
	}

	// Validate the static material first so a bad cipher policy or broken
	// PEM is reported up front.
	built, err := cfg.ServerConfig.Build(f.logger)
	if err != nil {
		f.disable("ssl configuration rejected: " + err.Error())
		return f, nil
	}

	reloader, err := tlsconf.NewCertReloader(cfg.ServerConfig, f.logger)
	if err != nil {
		f.disable("certificate load failed: " + err.Error())
		return f, nil
	}
	f.reloader = reloader

	built.Certificates = nil
	built.GetCertificate = reloader.GetCertificate
	f.tlsConfig = built
	return f, nil
}

// TLSConfig returns the listener configuration, or nil when the filter is
// disabled.
func (f *SSLFilter) TLSConfig() *tls.Config {
	if !f.Enabled() {
		return nil
	}
	return f.tlsConfig
}

// Match is always false: the filter has no per-request concern.
func (f *SSLFilter) Match(string) bool { return false }

// Handle never fires; TLS termination happened before dispatch.
func (f *SSLFilter) Handle(http.ResponseWriter, *http.Request, string) int { return 0 }

// Close stops the certificate watcher.
func (f *SSLFilter) Close() error {
	if f.reloader != nil {
		return f.reloader.Close()
	}
	return nil
}

var _ Filter = (*SSLFilter)(nil)
