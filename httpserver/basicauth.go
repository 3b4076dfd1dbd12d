package httpserver

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/probeops/agentgate/auth"
)

// DefaultRealm is advertised when no realm is configured.
const DefaultRealm = "agentgate"

// BasicAuthConfig configures the basic-auth filter.
type BasicAuthConfig struct {
	FilterConfig

	Realm    string
	User     string
	Password string // clear text or bcrypt hash
}

// BasicAuthFilter enforces HTTP Basic Authentication on matching paths. It
// runs at PriorityAuth so credentials are checked before any other filter.
type BasicAuthFilter struct {
	*filterBase
	realm string
	creds auth.BasicCredentials
}

// NewBasicAuth builds the filter. Enabling it without both a user and a
// password is a configuration error: the filter logs and permanently
// disables itself rather than letting traffic through unchecked.
func NewBasicAuth(cfg BasicAuthConfig, logger *slog.Logger) (*BasicAuthFilter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base, err := newFilterBase("basicauth", PriorityAuth, cfg.FilterConfig, logger)
	if err != nil {
		return nil, err
	}

	f := &BasicAuthFilter{
		filterBase: base,
		realm:      cfg.Realm,
		creds:      auth.BasicCredentials{User: cfg.User, Password: cfg.Password},
	}
	if f.realm == "" {
		f.realm = DefaultRealm
	}
	if f.Enabled() && (cfg.User == "" || cfg.Password == "") {
		f.disable("enabled without basic authentication fully setup")
	}
	return f, nil
}

// Handle checks the Authorization header. Missing header → 401 with the
// realm challenge; wrong scheme or credentials → 403; match → 0 so the
// next filter or the generic handler proceeds.
func (f *BasicAuthFilter) Handle(w http.ResponseWriter, r *http.Request, clientIP string) int {
	if f.rateLimited(w, clientIP) {
		return http.StatusTooManyRequests
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		auth.NewBasicChallenge(f.realm).Apply(w)
		return http.StatusUnauthorized
	}
	if !f.creds.Verify(header) {
		f.logger.Info("basic authentication failure", "client", clientIP)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return http.StatusForbidden
	}
	return 0
}

var _ Filter = (*BasicAuthFilter)(nil)
