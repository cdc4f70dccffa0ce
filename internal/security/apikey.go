package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// APIKeyPrefix marks gateway-issued secrets.
	APIKeyPrefix = "sk-"

	apiKeyRandomBytes  = 32
	apiKeyDisplayChars = 10
)

// GenerateAPIKey returns a new random secret and its display prefix.
func GenerateAPIKey() (secret string, display string, err error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", "", fmt.Errorf("generate api key: %w", errRead)
	}
	secret = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return secret, secret[:apiKeyDisplayChars], nil
}

// LooksLikeAPIKey reports whether raw carries the gateway key prefix.
func LooksLikeAPIKey(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), APIKeyPrefix)
}

// DigestAPIKey returns the hex BLAKE2b-256 digest of secret keyed with pepper.
// Only the digest is stored; lookups digest the presented secret.
func DigestAPIKey(pepper []byte, secret string) (string, error) {
	if len(pepper) > blake2b.Size {
		sum := blake2b.Sum256(pepper)
		pepper = sum[:]
	}
	h, errNew := blake2b.New256(pepper)
	if errNew != nil {
		return "", fmt.Errorf("digest api key: %w", errNew)
	}
	_, _ = h.Write([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(h.Sum(nil)), nil
}
