package httpclient

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/probeops/agentgate/auth"
	"github.com/probeops/agentgate/protocol"
	"github.com/probeops/agentgate/tlsconf"
)

// Headers of the challenge-response exchange, mirrored from the listener.
const (
	headerRequestID   = "X-Request-ID"
	headerAuthNonce   = "X-Auth-Nonce"
	headerAuthPayload = "X-Auth-Payload"
)

// acceptList advertises the payload encodings the client can decode, most
// compact first.
const acceptList = "application/x-compress-zlib, application/x-compress-gzip, application/json"

var (
	// ErrNoSession means the peer refused to open a session, usually
	// because it does not speak the protocol or the probe was filtered.
	ErrNoSession = errors.New("no session available")

	// ErrUnauthorized means the peer rejected the challenge-response
	// digest: the shared token does not match.
	ErrUnauthorized = errors.New("not authorized")
)

// Client is the outbound agent endpoint. Each exchange is probe-then-send:
// a fresh nonce is fetched, the digest computed, and the envelope posted.
// Failures are returned as-is; the client never retries on its own.
type Client struct {
	base      *url.URL
	token     string
	requestID string
	http      *http.Client
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithLogger installs the slog logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithToken sets the shared secret used to answer challenges.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithRequestID pins the request identifier instead of the generated one.
func WithRequestID(id string) ClientOption {
	return func(c *Client) error {
		if id != "" {
			c.requestID = id
		}
		return nil
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc != nil {
			c.http = hc
		}
		return nil
	}
}

// WithTimeout bounds each HTTP exchange.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.http.Timeout = d
		return nil
	}
}

// WithTLS builds the transport from a client TLS configuration, including
// certificate pinning when fingerprints are set.
func WithTLS(cfg tlsconf.ClientConfig) ClientOption {
	return func(c *Client) error {
		tlsCfg, err := cfg.Build(c.logger)
		if err != nil {
			return err
		}
		c.http.Transport = &http.Transport{TLSClientConfig: tlsCfg}
		return nil
	}
}

// NewClient builds a client for the protocol endpoint rooted at serverURL
// (scheme, host and base path, e.g. "https://server:62354/inventory").
func NewClient(serverURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	c := &Client{
		base:      base,
		requestID: uuid.NewString(),
		http:      &http.Client{Timeout: 60 * time.Second},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RequestID returns the identifier this client presents to the peer.
func (c *Client) RequestID() string { return c.requestID }

// ProbeNonce opens (or refreshes) the session on the peer and returns the
// challenge nonce it issued.
func (c *Client) ProbeNonce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/session"), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(headerRequestID, c.requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return "", ErrNoSession
	default:
		return "", fmt.Errorf("session probe: unexpected status %s", resp.Status)
	}

	nonce := resp.Header.Get(headerAuthNonce)
	if nonce == "" {
		return "", fmt.Errorf("session probe: %w: no nonce in response", ErrNoSession)
	}
	c.logger.Debug("session nonce obtained", "request_id", c.requestID)
	return nonce, nil
}

// Send performs one full authorized exchange: probe the nonce, prove the
// token, post the envelope and decode the peer's answer.
func (c *Client) Send(ctx context.Context, msg *protocol.Message) (*protocol.Answer, error) {
	var body io.Reader
	if msg != nil {
		body = bytes.NewReader(msg.RawContent())
	}
	return c.exchange(ctx, http.MethodPost, c.base.String(), body)
}

// Get performs an authorized pull of the named endpoint under the base
// path, e.g. Get(ctx, "/get").
func (c *Client) Get(ctx context.Context, suffix string) (*protocol.Answer, error) {
	return c.exchange(ctx, http.MethodGet, c.endpoint(suffix), nil)
}

func (c *Client) exchange(ctx context.Context, method, target string, body io.Reader) (*protocol.Answer, error) {
	nonce, err := c.ProbeNonce(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerRequestID, c.requestID)
	req.Header.Set(headerAuthPayload, auth.Digest(nonce, c.token))
	req.Header.Set("Accept", acceptList)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := decodePayload(resp)
	if err != nil {
		return nil, err
	}
	answer := protocol.NewAnswer(
		protocol.WithMessage(protocol.WithContent(raw)),
		protocol.WithHTTP(resp.StatusCode, http.StatusText(resp.StatusCode)),
	)
	return answer, nil
}

func (c *Client) endpoint(suffix string) string {
	u := *c.base
	u.Path += suffix
	return u.String()
}

// decodePayload reads the response body, transparently undoing the
// compression announced in Content-Type.
func decodePayload(resp *http.Response) ([]byte, error) {
	mediaType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	var reader io.Reader = resp.Body
	switch mediaType {
	case "application/x-compress-zlib":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening zlib payload: %w", err)
		}
		defer zr.Close()
		reader = zr
	case "application/x-compress-gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		defer gr.Close()
		reader = gr
	}
	return io.ReadAll(reader)
}

// drain consumes and closes a response body so the connection can be
// reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
