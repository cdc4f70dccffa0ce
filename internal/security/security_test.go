package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAPIKey_UniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		secret, display, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey: %v", err)
		}
		if !strings.HasPrefix(secret, APIKeyPrefix) {
			t.Fatalf("expected prefix %q, got %q", APIKeyPrefix, secret)
		}
		if !strings.HasPrefix(secret, display) || len(display) >= len(secret) {
			t.Fatalf("display %q is not a strict prefix of the secret", display)
		}
		if _, dup := seen[secret]; dup {
			t.Fatalf("duplicate secret generated")
		}
		seen[secret] = struct{}{}
	}
}

func TestDigestAPIKey_KeyedAndStable(t *testing.T) {
	a, err := DigestAPIKey([]byte("pepper"), "sk-abc")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	b, _ := DigestAPIKey([]byte("pepper"), " sk-abc ")
	if a != b {
		t.Fatalf("expected whitespace-insensitive digest")
	}
	c, _ := DigestAPIKey([]byte("other"), "sk-abc")
	if a == c {
		t.Fatalf("expected pepper to change the digest")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	long, errLong := DigestAPIKey([]byte(strings.Repeat("x", 100)), "sk-abc")
	if errLong != nil || long == "" {
		t.Fatalf("expected long pepper to be accepted, err=%v", errLong)
	}
}

func TestIdentityToken_RoundTrip(t *testing.T) {
	now := time.Now()
	raw, err := IssueIdentityToken("s3cret", Identity{OpenID: "open-1", Name: "Ada", LoginMethod: "github"}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := ParseIdentityToken("s3cret", raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.OpenID != "open-1" || id.Name != "Ada" || id.LoginMethod != "github" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseIdentityToken_Rejects(t *testing.T) {
	now := time.Now()
	raw, _ := IssueIdentityToken("s3cret", Identity{OpenID: "open-1"}, time.Hour, now)
	if _, err := ParseIdentityToken("wrong", raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	expired, _ := IssueIdentityToken("s3cret", Identity{OpenID: "open-1"}, time.Minute, now.Add(-time.Hour))
	if _, err := ParseIdentityToken("s3cret", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := ParseIdentityToken("s3cret", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}
