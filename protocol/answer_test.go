package protocol

import (
	"testing"
)

func TestAnswerDefaults(t *testing.T) {
	a := NewAnswer()
	if a.HTTPCode() != 200 || a.HTTPStatus() != "OK" {
		t.Fatalf("defaults = %d %q, want 200 OK", a.HTTPCode(), a.HTTPStatus())
	}
	if got := a.ContentType(); got != "application/json" {
		t.Errorf("ContentType() = %q", got)
	}
}

func TestAnswerErrorForcesHTTPSuccess(t *testing.T) {
	a := NewAnswer(WithHTTP(500, "Internal Server Error"))
	if err := a.SetExpiration("1h"); err != nil {
		t.Fatal(err)
	}

	a.Error("no such task")

	if a.HTTPCode() != 200 || a.HTTPStatus() != "OK" {
		t.Fatalf("after Error: %d %q, want 200 OK", a.HTTPCode(), a.HTTPStatus())
	}
	if got := a.Status(); got != "error" {
		t.Errorf("status = %q, want error", got)
	}
	if got := a.GetString("message"); got != "no such task" {
		t.Errorf("message = %q", got)
	}
	if got := a.Expiration(); got != 0 {
		t.Errorf("expiration survived the error transition: %d", got)
	}
}

func TestAnswerSuccessOnlyPromotesPending(t *testing.T) {
	a := NewAnswer()
	a.SetStatus("pending")
	a.Success()
	if got := a.Status(); got != "ok" {
		t.Errorf("pending should promote to ok, got %q", got)
	}

	b := NewAnswer()
	b.SetStatus("error")
	b.Success()
	if got := b.Status(); got != "error" {
		t.Errorf("non-pending status must not regress, got %q", got)
	}
}

func TestAnswerDumpRoundTrip(t *testing.T) {
	a := NewAnswer(
		WithHTTP(202, "Accepted"),
		WithAgentID("agent-7"),
		WithProxyIDs("p1,p2"),
	)
	a.SetStatus("pending")

	restored := NewAnswer(WithMessage(WithContent(a.Dump())))

	if restored.HTTPCode() != 202 || restored.HTTPStatus() != "Accepted" {
		t.Fatalf("restored HTTP meta = %d %q", restored.HTTPCode(), restored.HTTPStatus())
	}
	if restored.AgentID() != "agent-7" || restored.ProxyIDs() != "p1,p2" {
		t.Fatalf("restored routing ids = %q %q", restored.AgentID(), restored.ProxyIDs())
	}
	if got := restored.Status(); got != "pending" {
		t.Errorf("status = %q", got)
	}
	// The folded metadata keys must not leak into the payload.
	for _, key := range []string{"_http_code", "_http_status", "_agentid", "_proxyids"} {
		if restored.Get(key) != nil {
			t.Errorf("dump key %q leaked into payload", key)
		}
	}
}
