package httpserver

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/probeops/agentgate/internal/logctx"
	"github.com/probeops/agentgate/protocol"
	"github.com/probeops/agentgate/sessions"
)

// Headers of the challenge-response exchange.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderAuthNonce   = "X-Auth-Nonce"
	HeaderAuthPayload = "X-Auth-Payload"
)

// DefaultBasePath anchors the protocol endpoints.
const DefaultBasePath = "/inventory"

// Payload media types the listener can answer with. JSON is the identity
// encoding; the compress types wrap it.
var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	zlibMediaType = contenttype.NewMediaType("application/x-compress-zlib")
	gzipMediaType = contenttype.NewMediaType("application/x-compress-gzip")

	answerMediaTypes = []contenttype.MediaType{jsonMediaType, zlibMediaType, gzipMediaType}
)

// EnvelopeHandler processes a request that passed every filter and the
// challenge-response check. The incoming envelope is already parsed; the
// returned Answer is serialized, compressed per the peer's Accept list, and
// served with its recorded HTTP code.
type EnvelopeHandler func(ctx context.Context, r *http.Request, msg *protocol.Message) *protocol.Answer

// Server is the protocol listener: TLS termination (optional), the filter
// chain, the nonce/session endpoints, and the generic envelope handler.
type Server struct {
	addr     string
	basePath string
	token    string

	chain   *Chain
	ssl     *SSLFilter
	store   *sessions.Store
	handler EnvelopeHandler
	logger  *slog.Logger

	port    atomic.Int32
	httpSrv *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger installs the slog logger. Records are enriched with request
// and session context.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = slog.New(logctx.Handler{Handler: logger.Handler()})
		}
	}
}

// WithToken sets the shared secret peers must prove possession of.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// WithBasePath overrides DefaultBasePath.
func WithBasePath(base string) ServerOption {
	return func(s *Server) {
		if base != "" {
			s.basePath = strings.TrimRight(base, "/")
		}
	}
}

// WithFilters registers request filters.
func WithFilters(filters ...Filter) ServerOption {
	return func(s *Server) {
		for _, f := range filters {
			s.chain.Register(f)
		}
	}
}

// WithSSL attaches the TLS termination filter.
func WithSSL(f *SSLFilter) ServerOption {
	return func(s *Server) {
		s.ssl = f
		s.chain.Register(f)
	}
}

// WithEnvelopeHandler sets the generic handler run after all filters defer
// and authorization succeeds.
func WithEnvelopeHandler(h EnvelopeHandler) ServerOption {
	return func(s *Server) { s.handler = h }
}

// NewServer builds a listener bound to addr (host:port).
func NewServer(addr string, store *sessions.Store, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		basePath: DefaultBasePath,
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.chain = NewChain(s.logger)
	for _, opt := range opts {
		opt(s)
	}
	s.chain.logger = s.logger
	return s
}

// Chain exposes the filter chain, mainly for inspection in tests.
func (s *Server) Chain() *Chain { return s.chain }

// Start binds the listener and serves until ctx is canceled. When the SSL
// filter is enabled the socket is TLS-wrapped before any request is read; a
// disabled SSL filter means plain HTTP, never a silent downgrade of an
// enabled one.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(tcpAddr.Port))
	}

	scheme := "http"
	if s.ssl != nil {
		if cfg := s.ssl.TLSConfig(); cfg != nil {
			ln = tls.NewListener(ln, cfg)
			scheme = "https"
		}
	}

	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("listener started", "addr", ln.Addr().String(), "scheme", scheme)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Port returns the bound port once Start has run.
func (s *Server) Port() int { return int(s.port.Load()) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := remoteIP(r)
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  r.Header.Get(HeaderRequestID),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if code := s.chain.Dispatch(w, r, clientIP, int(s.port.Load())); code != 0 {
		s.logger.InfoContext(ctx, "request rejected by filter", "code", code)
		return
	}

	switch {
	case r.URL.Path == s.basePath+"/session":
		s.handleSession(w, r, clientIP)
	case r.URL.Path == s.basePath || strings.HasPrefix(r.URL.Path, s.basePath+"/"):
		s.handleProtected(w, r, clientIP)
	default:
		http.NotFound(w, r)
	}
}

// handleSession answers the unauthenticated probe that opens the
// challenge-response exchange: it creates or restores the peer's session
// and returns its nonce in a response header.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, clientIP string) {
	ctx := r.Context()
	remoteID, ok := s.remoteID(r, clientIP)
	if !ok {
		s.logger.InfoContext(ctx, "missing mandatory request id header")
		http.Error(w, "No session available", http.StatusForbidden)
		return
	}

	session := s.store.CreateOrRestore(remoteID)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SID: session.SID(), RemoteID: remoteID})
	nonce := session.Nonce()
	if nonce == "" {
		s.logger.ErrorContext(ctx, "session setup failure")
		http.Error(w, "Session failure", http.StatusInternalServerError)
		return
	}

	s.logger.DebugContext(ctx, "session challenge issued")
	w.Header().Set(HeaderAuthNonce, nonce)
	w.WriteHeader(http.StatusOK)
}

// handleProtected verifies the challenge-response digest, then hands the
// envelope to the generic handler. The session is consumed either way: a
// replayed digest meets a fresh nonce.
func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request, clientIP string) {
	ctx := r.Context()
	remoteID, ok := s.remoteID(r, clientIP)
	if !ok {
		s.logger.InfoContext(ctx, "missing mandatory request id header")
		http.Error(w, "No session available", http.StatusForbidden)
		return
	}

	authorized := false
	if session := s.store.Lookup(remoteID); session != nil {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SID: session.SID(), RemoteID: remoteID})
		authorized = session.Authorized(s.token, r.Header.Get(HeaderAuthPayload))
	}
	s.store.Remove(ctx, remoteID)

	if !authorized {
		s.logger.InfoContext(ctx, "unauthorized request")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	msg := protocol.New(protocol.WithContent(body))
	msg.SetID(r.Header.Get(HeaderRequestID))

	answer := s.dispatchEnvelope(ctx, r, msg)
	s.writeAnswer(w, r, answer)
}

func (s *Server) dispatchEnvelope(ctx context.Context, r *http.Request, msg *protocol.Message) *protocol.Answer {
	if s.handler == nil {
		answer := protocol.NewAnswer()
		answer.Error("no handler for action " + msg.Action())
		return answer
	}
	answer := s.handler(ctx, r, msg)
	if answer == nil {
		answer = protocol.NewAnswer()
		answer.Error("empty answer")
	}
	return answer
}

// writeAnswer serializes the envelope, compressed per the peer's Accept
// list when it prefers a compress media type over plain JSON.
func (s *Server) writeAnswer(w http.ResponseWriter, r *http.Request, answer *protocol.Answer) {
	content := answer.Content()

	accepted, _, err := contenttype.GetAcceptableMediaType(r, answerMediaTypes)
	if err != nil {
		accepted = jsonMediaType
	}

	switch {
	case accepted.Matches(zlibMediaType):
		w.Header().Set("Content-Type", zlibMediaType.String())
		w.WriteHeader(answer.HTTPCode())
		zw := zlib.NewWriter(w)
		_, _ = zw.Write(content)
		_ = zw.Close()
	case accepted.Matches(gzipMediaType):
		w.Header().Set("Content-Type", gzipMediaType.String())
		w.WriteHeader(answer.HTTPCode())
		gw := gzip.NewWriter(w)
		_, _ = gw.Write(content)
		_ = gw.Close()
	default:
		w.Header().Set("Content-Type", answer.ContentType())
		w.WriteHeader(answer.HTTPCode())
		_, _ = w.Write(content)
	}
}

// remoteID derives the session key for a peer: the caller-chosen request
// id scoped by the source address, so an id cannot be replayed from
// elsewhere.
func (s *Server) remoteID(r *http.Request, clientIP string) (string, bool) {
	reqID := r.Header.Get(HeaderRequestID)
	if reqID == "" {
		return "", false
	}
	return "{" + reqID + "}@[" + clientIP + "]", true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
