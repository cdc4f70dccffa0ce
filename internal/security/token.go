package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is the profile asserted by the identity provider.
type Identity struct {
	OpenID      string
	Name        string
	Email       string
	LoginMethod string
}

type identityClaims struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	LoginMethod string `json:"login_method,omitempty"`
	jwt.RegisteredClaims
}

// IssueIdentityToken signs an HS256 identity token for id.
func IssueIdentityToken(secret string, id Identity, expiry time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("issue identity token: empty secret")
	}
	if strings.TrimSpace(id.OpenID) == "" {
		return "", fmt.Errorf("issue identity token: empty open id")
	}
	claims := identityClaims{
		Name:        id.Name,
		Email:       id.Email,
		LoginMethod: id.LoginMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.OpenID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("issue identity token: %w", errSign)
	}
	return signed, nil
}

// ParseIdentityToken verifies raw and returns the asserted identity.
func ParseIdentityToken(secret, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.TrimSpace(secret) == "" {
		return Identity{}, ErrInvalidToken
	}
	var claims identityClaims
	token, errParse := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	openID := strings.TrimSpace(claims.Subject)
	if openID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{
		OpenID:      openID,
		Name:        strings.TrimSpace(claims.Name),
		Email:       strings.TrimSpace(claims.Email),
		LoginMethod: strings.TrimSpace(claims.LoginMethod),
	}, nil
}
