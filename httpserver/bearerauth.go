package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/probeops/agentgate/auth"
)

// BearerAuthConfig configures the bearer-token filter. Exactly one key
// source must be set: a shared HMAC secret or a JWKS URI.
type BearerAuthConfig struct {
	FilterConfig

	Realm       string
	Issuer      string
	Audiences   []string
	AllowedAlgs []string
	Leeway      time.Duration

	HMACSecret []byte
	JWKSURI    string
}

// BearerAuthFilter validates JWT bearer tokens on matching paths. Like the
// basic-auth filter it runs at PriorityAuth and defers (returns 0) once the
// token checks out.
type BearerAuthFilter struct {
	*filterBase
	realm  string
	parser *jwt.Parser
	keyfn  jwt.Keyfunc
	wants  []string
}

// NewBearerAuth builds the filter. The context bounds the initial JWKS
// fetch when a JWKS URI is configured. Misconfiguration (no key source, or
// an unreachable JWKS endpoint) logs and permanently disables the filter.
func NewBearerAuth(ctx context.Context, cfg BearerAuthConfig, logger *slog.Logger) (*BearerAuthFilter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base, err := newFilterBase("bearerauth", PriorityAuth, cfg.FilterConfig, logger)
	if err != nil {
		return nil, err
	}

	f := &BearerAuthFilter{filterBase: base, realm: cfg.Realm, wants: cfg.Audiences}
	if f.realm == "" {
		f.realm = DefaultRealm
	}

	algs := cfg.AllowedAlgs
	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = 60 * time.Second
	}

	switch {
	case !f.Enabled():
		// Nothing to set up.
	case len(cfg.HMACSecret) > 0:
		if len(algs) == 0 {
			algs = []string{"HS256"}
		}
		secret := append([]byte(nil), cfg.HMACSecret...)
		f.keyfn = func(t *jwt.Token) (any, error) { return secret, nil }
	case cfg.JWKSURI != "":
		if len(algs) == 0 {
			algs = []string{"RS256"}
		}
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURI})
		if err != nil {
			f.disable("jwks init failed: " + err.Error())
			return f, nil
		}
		f.keyfn = kf.Keyfunc
	default:
		f.disable("enabled without an HMAC secret or JWKS URI")
		return f, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	f.parser = jwt.NewParser(opts...)
	return f, nil
}

// Handle validates the bearer token. Missing token → 401 challenge;
// invalid token or audience mismatch → 403; valid → 0.
func (f *BearerAuthFilter) Handle(w http.ResponseWriter, r *http.Request, clientIP string) int {
	if f.rateLimited(w, clientIP) {
		return http.StatusTooManyRequests
	}

	header := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(header, " ")
	if header == "" || !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		auth.NewBearerChallenge(f.realm).Apply(w)
		return http.StatusUnauthorized
	}

	parsed, err := f.parser.Parse(strings.TrimSpace(tok), f.keyfn)
	if err != nil {
		f.logger.Info("bearer token rejected", "client", clientIP, "err", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return http.StatusForbidden
	}
	if len(f.wants) > 0 {
		claims, _ := parsed.Claims.(jwt.MapClaims)
		if !audIntersects(claims["aud"], f.wants) {
			f.logger.Info("bearer token audience mismatch", "client", clientIP)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return http.StatusForbidden
		}
	}
	return 0
}

func audIntersects(aud any, wants []string) bool {
	wantSet := make(map[string]struct{}, len(wants))
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, hit := wantSet[s]; hit {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, hit := wantSet[s]; hit {
				return true
			}
		}
	}
	return false
}

var _ Filter = (*BearerAuthFilter)(nil)
