package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// Digest computes the challenge-response proof for a nonce and shared
// token: base64(SHA-256(nonce ++ "++" ++ token)). Both peers derive it the
// same way, so an exact comparison suffices.
func Digest(nonce, token string) string {
	sum := sha256.Sum256([]byte(nonce + "++" + token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// BasicCredentials is the expected identity for the basic-auth filter. The
// password may be stored either in clear text or as a bcrypt hash
// (recognized by its "$2" prefix).
type BasicCredentials struct {
	User     string
	Password string
}

// Verify checks an Authorization header value against the expected
// credentials. Only the Basic scheme is accepted.
func (c BasicCredentials) Verify(authorization string) bool {
	scheme, encoded, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	user, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) != 1 {
		return false
	}
	return c.verifyPassword(password)
}

func (c BasicCredentials) verifyPassword(supplied string) bool {
	if strings.HasPrefix(c.Password, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(c.Password)) == 1
}
