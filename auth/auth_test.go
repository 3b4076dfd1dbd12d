package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func TestDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("nonce++token"))
	want := base64.StdEncoding.EncodeToString(sum[:])
	if got := Digest("nonce", "token"); got != want {
		t.Fatalf("Digest() = %q, want %q", got, want)
	}
	if Digest("nonce", "other") == want {
		t.Fatal("different tokens produced the same digest")
	}
	if Digest("other", "token") == want {
		t.Fatal("different nonces produced the same digest")
	}
}

func TestBasicCredentialsVerify(t *testing.T) {
	creds := BasicCredentials{User: "probe", Password: "s3cret"}

	cases := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid", basicHeader("probe", "s3cret"), true},
		{"case-insensitive scheme", strings.Replace(basicHeader("probe", "s3cret"), "Basic", "basic", 1), true},
		{"wrong password", basicHeader("probe", "nope"), false},
		{"wrong user", basicHeader("other", "s3cret"), false},
		{"wrong scheme", "Bearer abcdef", false},
		{"not base64", "Basic not-base64!!!", false},
		{"no colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("probes3cret")), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := creds.Verify(tc.header); got != tc.want {
				t.Errorf("Verify(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

func TestBasicCredentialsBcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	creds := BasicCredentials{User: "probe", Password: string(hash)}

	if !creds.Verify(basicHeader("probe", "s3cret")) {
		t.Error("valid bcrypt password rejected")
	}
	if creds.Verify(basicHeader("probe", "wrong")) {
		t.Error("invalid bcrypt password accepted")
	}
}

func TestBasicChallengeCarriesRealm(t *testing.T) {
	ch := NewBasicChallenge(`my "realm"`)
	rec := httptest.NewRecorder()
	ch.Apply(rec)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	got := rec.Header().Get("WWW-Authenticate")
	if got != `Basic realm="my \"realm\""` {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestBearerChallengeOmitsEmptyRealm(t *testing.T) {
	if got := NewBearerChallenge("").WWWAuthenticate; got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want bare scheme", got)
	}
	if got := NewBearerChallenge("agentgate").WWWAuthenticate; got != `Bearer realm="agentgate"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}
