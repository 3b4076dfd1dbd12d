package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Challenge describes an HTTP authentication challenge (status code plus
// WWW-Authenticate header value).
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

// Apply writes the challenge headers and status to a response.
func (c Challenge) Apply(w http.ResponseWriter) {
	if c.WWWAuthenticate != "" {
		w.Header().Set("WWW-Authenticate", c.WWWAuthenticate)
	}
	w.WriteHeader(c.Status)
}

// NewBasicChallenge builds the 401 challenge answering a request that
// carried no credentials for the given realm.
func NewBasicChallenge(realm string) Challenge {
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: fmt.Sprintf(`Basic realm="%s"`, escapeQuotes(realm)),
	}
}

// NewBearerChallenge builds the 401 challenge answering a request that
// carried no bearer token. The realm attribute is omitted when empty, per
// RFC 6750 it is optional.
func NewBearerChallenge(realm string) Challenge {
	value := "Bearer"
	if realm != "" {
		value = fmt.Sprintf(`Bearer realm="%s"`, escapeQuotes(realm))
	}
	return Challenge{Status: http.StatusUnauthorized, WWWAuthenticate: value}
}

func escapeQuotes(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
