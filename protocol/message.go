package protocol

import (
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"
)

// DefaultAction is assumed when a message carries no explicit action field.
const DefaultAction = "inventory"

// ErrInvalidExpiration is returned when an expiration string does not match
// the `^\d+[smhd]?$` grammar. The previously stored value is left untouched.
var ErrInvalidExpiration = errors.New("invalid expiration format")

var expirationRe = regexp.MustCompile(`^(\d+)([smhd]?)$`)

// Message is the base JSON envelope. The zero value is not usable; construct
// with New. Message is not safe for concurrent mutation.
type Message struct {
	body map[string]any
	id   string
}

// Option configures a Message during construction.
type Option func(*Message)

// WithBody sets the message content from a map. The map is used as-is.
func WithBody(body map[string]any) Option {
	return func(m *Message) {
		if body != nil {
			m.body = body
		}
	}
}

// WithContent parses raw JSON into the message body. Unparseable input
// leaves the body empty rather than failing construction.
func WithContent(raw []byte) Option {
	return func(m *Message) { m.setRaw(raw) }
}

// WithFile loads the message content from a JSON file. A missing or
// unreadable file leaves the body empty.
func WithFile(path string) Option {
	return func(m *Message) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return
		}
		m.setRaw(raw)
	}
}

// New builds a Message from the given options.
func New(opts ...Option) *Message {
	m := &Message{body: make(map[string]any)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Message) setRaw(raw []byte) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		m.body = make(map[string]any)
		return
	}
	m.body = body
}

// Get returns the value stored under key, or nil.
func (m *Message) Get(key string) any {
	return m.body[key]
}

// GetString returns the value stored under key when it is a string.
func (m *Message) GetString(key string) string {
	s, _ := m.body[key].(string)
	return s
}

// Body returns the underlying message content.
func (m *Message) Body() map[string]any {
	return m.body
}

// Merge stores every given key/value pair into the message, overwriting
// existing entries.
func (m *Message) Merge(fields map[string]any) {
	for k, v := range fields {
		m.body[k] = v
	}
}

// Delete removes key from the message and returns the removed value, if any.
func (m *Message) Delete(key string) any {
	v, ok := m.body[key]
	if !ok {
		return nil
	}
	delete(m.body, key)
	return v
}

// Status returns the message status, empty when unset.
func (m *Message) Status() string {
	return m.GetString("status")
}

// SetStatus sets the message status.
func (m *Message) SetStatus(status string) {
	m.body["status"] = status
}

// Action returns the message action, defaulting to DefaultAction.
func (m *Message) Action() string {
	if a := m.GetString("action"); a != "" {
		return a
	}
	return DefaultAction
}

// IsValid reports whether the message has content and a status, which is the
// minimum a peer answer must carry.
func (m *Message) IsValid() bool {
	return len(m.body) > 0 && m.Status() != ""
}

// ID returns the caller-assigned message identifier.
func (m *Message) ID() string { return m.id }

// SetID records a caller-assigned message identifier. The identifier is
// bookkeeping only and never serialized into the envelope.
func (m *Message) SetID(id string) { m.id = id }

// SetExpiration validates and stores an expiration token. The grammar is
// `^\d+[smhd]?$` with a bare integer meaning hours. Invalid input returns
// ErrInvalidExpiration and leaves any previously stored value untouched.
func (m *Message) SetExpiration(expiration string) error {
	if !expirationRe.MatchString(expiration) {
		return ErrInvalidExpiration
	}
	m.body["expiration"] = expiration
	return nil
}

// Expiration returns the stored expiration converted to seconds, or 0 when
// unset or malformed.
func (m *Message) Expiration() int64 {
	raw, ok := m.body["expiration"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case string:
		return parseExpiration(v)
	case float64:
		// JSON numbers decode as float64; bare integers mean hours.
		if v < 0 {
			return 0
		}
		return int64(v) * 3600
	default:
		return 0
	}
}

func parseExpiration(s string) int64 {
	match := expirationRe.FindStringSubmatch(s)
	if match == nil {
		return 0
	}
	var n int64
	for _, c := range match[1] {
		n = n*10 + int64(c-'0')
	}
	switch match[2] {
	case "s":
		return n
	case "m":
		return n * 60
	case "d":
		return n * 86400
	default: // "h" or bare integer
		return n * 3600
	}
}

// RawContent returns the compact JSON encoding of the message with keys in
// their original case.
func (m *Message) RawContent() []byte {
	raw, err := json.Marshal(m.body)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// Content returns the indented JSON encoding of the message with every key
// recursively lower-cased. This is the canonical on-the-wire form.
func (m *Message) Content() []byte {
	raw, err := json.MarshalIndent(m.Normalized(), "", "  ")
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// Normalized returns a copy of the message content with every key, at any
// nesting depth, lower-cased.
func (m *Message) Normalized() map[string]any {
	return lowerKeys(m.body)
}

func lowerKeys(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[strings.ToLower(k)] = lowerValue(v)
	}
	return out
}

func lowerValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return lowerKeys(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = lowerValue(e)
		}
		return out
	default:
		return v
	}
}
