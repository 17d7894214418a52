// Package auth reads what the client may know about its own bearer token.
// Tokens are opaque to the session protocol; inspection is best-effort and
// only feeds diagnostics. Signatures are never checked here: the API server is
// the authority on validity.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// TokenInfo is the unverified view of a bearer token.
type TokenInfo struct {
	Subject   string
	SessionID string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// claims mirrors the access token claims minted by the checkout API.
type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Inspect decodes token without verifying it. Opaque (non-JWT) tokens return
// an error; callers treat that as "nothing known".
func Inspect(token string) (TokenInfo, error) {
	if strings.Count(token, ".") != 2 {
		return TokenInfo{}, fmt.Errorf("inspect token: not a JWT")
	}

	var c claims
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return TokenInfo{}, fmt.Errorf("inspect token: %w", err)
	}

	info := TokenInfo{Subject: c.Subject, SessionID: c.SessionID}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
	}
	return info, nil
}

// Expired reports whether token is a JWT whose exp has passed according to
// clock. Opaque tokens are never considered expired.
func Expired(clock domain.Clock, token string) bool {
	info, err := Inspect(token)
	if err != nil {
		return false
	}
	return domain.Expired(clock, info.ExpiresAt)
}
