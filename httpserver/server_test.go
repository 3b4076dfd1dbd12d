package httpserver

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/probeops/agentgate/auth"
	"github.com/probeops/agentgate/protocol"
	"github.com/probeops/agentgate/sessions"
)

const testToken = "shared-secret"

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	store := sessions.NewStore()
	opts = append([]ServerOption{WithToken(testToken)}, opts...)
	srv := NewServer("127.0.0.1:0", store, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func getNonce(t *testing.T, ts *httptest.Server, requestID string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/inventory/session", nil)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set(HeaderRequestID, requestID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("session request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session request = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	nonce := resp.Header.Get(HeaderAuthNonce)
	if nonce == "" {
		t.Fatal("session response carries no nonce header")
	}
	return nonce
}

func TestSessionEndpointRequiresRequestID(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/inventory/session")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d without a request id", resp.StatusCode, http.StatusForbidden)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "No session available") {
		t.Fatalf("body = %q, want session refusal message", body)
	}
}

func TestSessionEndpointIssuesStableNonce(t *testing.T) {
	_, ts := newTestServer(t)

	first := getNonce(t, ts, "abc123")
	second := getNonce(t, ts, "abc123")
	if first != second {
		t.Fatal("same peer received two different nonces across probes")
	}
	other := getNonce(t, ts, "other")
	if other == first {
		t.Fatal("distinct request ids share a nonce")
	}
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	var gotAction string
	handler := func(ctx context.Context, r *http.Request, msg *protocol.Message) *protocol.Answer {
		gotAction = msg.Action()
		answer := protocol.NewAnswer()
		answer.Success()
		return answer
	}
	_, ts := newTestServer(t, WithEnvelopeHandler(handler))

	nonce := getNonce(t, ts, "abc123")
	payload := auth.Digest(nonce, testToken)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/inventory",
		strings.NewReader(`{"action":"inventory","deviceid":"test-device"}`))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set(HeaderRequestID, "abc123")
	req.Header.Set(HeaderAuthPayload, payload)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("authorized request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotAction != "inventory" {
		t.Fatalf("handler saw action %q, want %q", gotAction, "inventory")
	}

	var answer map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatalf("decoding answer: %v", err)
	}
	if answer["status"] != "ok" {
		t.Fatalf("answer status = %v, want %q", answer["status"], "ok")
	}
}

func TestWrongDigestIsForbidden(t *testing.T) {
	_, ts := newTestServer(t)

	getNonce(t, ts, "abc123")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/inventory", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set(HeaderRequestID, "abc123")
	req.Header.Set(HeaderAuthPayload, "bogus")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d for a wrong digest", resp.StatusCode, http.StatusForbidden)
	}
}

func TestSessionConsumedAfterUse(t *testing.T) {
	handler := func(ctx context.Context, r *http.Request, msg *protocol.Message) *protocol.Answer {
		answer := protocol.NewAnswer()
		answer.Success()
		return answer
	}
	_, ts := newTestServer(t, WithEnvelopeHandler(handler))

	nonce := getNonce(t, ts, "abc123")
	payload := auth.Digest(nonce, testToken)

	send := func() int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/inventory", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("NewRequest() error: %v", err)
		}
		req.Header.Set(HeaderRequestID, "abc123")
		req.Header.Set(HeaderAuthPayload, payload)
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first use = %d, want %d", code, http.StatusOK)
	}
	// The session was consumed: replaying the digest meets a fresh nonce.
	if code := send(); code != http.StatusForbidden {
		t.Fatalf("replay = %d, want %d", code, http.StatusForbidden)
	}
}

func TestFilterRunsBeforeProtocolEndpoints(t *testing.T) {
	ba, err := NewBasicAuth(BasicAuthConfig{User: "agent", Password: "s3cret"}, nil)
	if err != nil {
		t.Fatalf("NewBasicAuth() error: %v", err)
	}
	_, ts := newTestServer(t, WithFilters(ba))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/inventory/session", nil)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set(HeaderRequestID, "abc123")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d from the basic-auth filter", resp.StatusCode, http.StatusUnauthorized)
	}
	req.SetBasicAuth("agent", "s3cret")
	resp2, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d past the filter", resp2.StatusCode, http.StatusOK)
	}
}

func TestAnswerCompression(t *testing.T) {
	handler := func(ctx context.Context, r *http.Request, msg *protocol.Message) *protocol.Answer {
		answer := protocol.NewAnswer()
		answer.Success()
		return answer
	}

	for _, tc := range []struct {
		accept string
		decode func(io.Reader) (io.ReadCloser, error)
	}{
		{"application/x-compress-zlib", func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) }},
		{"application/x-compress-gzip", func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }},
	} {
		t.Run(tc.accept, func(t *testing.T) {
			_, ts := newTestServer(t, WithEnvelopeHandler(handler))

			nonce := getNonce(t, ts, "abc123")
			payload := auth.Digest(nonce, testToken)

			req, err := http.NewRequest(http.MethodPost, ts.URL+"/inventory", strings.NewReader(`{}`))
			if err != nil {
				t.Fatalf("NewRequest() error: %v", err)
			}
			req.Header.Set(HeaderRequestID, "abc123")
			req.Header.Set(HeaderAuthPayload, payload)
			req.Header.Set("Accept", tc.accept)
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if got := resp.Header.Get("Content-Type"); got != tc.accept {
				t.Fatalf("Content-Type = %q, want %q", got, tc.accept)
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("reading body: %v", err)
			}
			rc, err := tc.decode(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("opening decompressor: %v", err)
			}
			defer rc.Close()
			var answer map[string]any
			if err := json.NewDecoder(rc).Decode(&answer); err != nil {
				t.Fatalf("decoding decompressed answer: %v", err)
			}
			if answer["status"] != "ok" {
				t.Fatalf("answer status = %v, want %q", answer["status"], "ok")
			}
		})
	}
}

func TestUnknownPathIs404(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/nowhere")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
