package protocol

import (
	"encoding/json"
	"net/http"
)

// Keys used to fold HTTP metadata into a persisted answer dump. They never
// appear in the on-the-wire envelope.
const (
	dumpHTTPCode   = "_http_code"
	dumpHTTPStatus = "_http_status"
	dumpAgentID    = "_agentid"
	dumpProxyIDs   = "_proxyids"
)

// Answer is a Message that additionally tracks the HTTP code and status text
// the envelope should be served with, plus routing identifiers for the agent
// and any proxy chain it traversed.
type Answer struct {
	Message

	httpCode   int
	httpStatus string
	agentID    string
	proxyIDs   string
}

// AnswerOption configures an Answer during construction.
type AnswerOption func(*Answer)

// WithMessage applies Message construction options to the embedded envelope.
func WithMessage(opts ...Option) AnswerOption {
	return func(a *Answer) {
		for _, opt := range opts {
			opt(&a.Message)
		}
	}
}

// WithHTTP overrides the initial HTTP code and status text.
func WithHTTP(code int, status string) AnswerOption {
	return func(a *Answer) {
		a.httpCode = code
		a.httpStatus = status
	}
}

// WithAgentID sets the agent routing identifier.
func WithAgentID(id string) AnswerOption {
	return func(a *Answer) { a.agentID = id }
}

// WithProxyIDs sets the proxy chain identifiers.
func WithProxyIDs(ids string) AnswerOption {
	return func(a *Answer) { a.proxyIDs = ids }
}

// NewAnswer builds an Answer. The HTTP metadata defaults to 200 "OK".
func NewAnswer(opts ...AnswerOption) *Answer {
	a := &Answer{
		Message:    Message{body: make(map[string]any)},
		httpCode:   http.StatusOK,
		httpStatus: "OK",
	}
	for _, opt := range opts {
		opt(a)
	}
	// When the content was itself a dump, pull the folded metadata back out.
	a.restoreDumpedMeta()
	return a
}

func (a *Answer) restoreDumpedMeta() {
	if v := a.Delete(dumpHTTPCode); v != nil {
		switch code := v.(type) {
		case float64:
			a.httpCode = int(code)
		case int:
			a.httpCode = code
		}
	}
	if v, ok := a.Delete(dumpHTTPStatus).(string); ok && v != "" {
		a.httpStatus = v
	}
	if v, ok := a.Delete(dumpAgentID).(string); ok && v != "" {
		a.agentID = v
	}
	if v, ok := a.Delete(dumpProxyIDs).(string); ok && v != "" {
		a.proxyIDs = v
	}
}

// HTTPCode returns the HTTP status code the answer should be served with.
func (a *Answer) HTTPCode() int { return a.httpCode }

// HTTPStatus returns the HTTP status text the answer should be served with.
func (a *Answer) HTTPStatus() string { return a.httpStatus }

// AgentID returns the agent routing identifier.
func (a *Answer) AgentID() string { return a.agentID }

// ProxyIDs returns the proxy chain identifiers.
func (a *Answer) ProxyIDs() string { return a.proxyIDs }

// ContentType returns the media type answers are served as.
func (a *Answer) ContentType() string { return "application/json" }

// Error records an application-level error in the payload. The envelope is
// still served as 200 "OK": protocol errors are carried inside the payload
// so a proxy cannot mistake them for transport failures.
func (a *Answer) Error(message string) {
	if message == "" {
		return
	}
	a.body["status"] = "error"
	a.body["message"] = message
	delete(a.body, "expiration")
	a.httpCode = http.StatusOK
	a.httpStatus = "OK"
}

// Success marks the answer as served. A pending status is promoted to ok;
// any other status is left as-is.
func (a *Answer) Success() {
	a.httpCode = http.StatusOK
	a.httpStatus = "OK"
	if a.Status() == "pending" {
		a.body["status"] = "ok"
	}
}

// Dump returns the answer as a flat JSON object with the HTTP metadata
// folded in, suitable for persisting and later reload through NewAnswer.
func (a *Answer) Dump() []byte {
	dump := make(map[string]any, len(a.body)+4)
	for k, v := range a.body {
		dump[k] = v
	}
	dump[dumpHTTPCode] = a.httpCode
	dump[dumpHTTPStatus] = a.httpStatus
	dump[dumpAgentID] = a.agentID
	dump[dumpProxyIDs] = a.proxyIDs
	raw, err := json.Marshal(dump)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
