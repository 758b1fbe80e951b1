// ABOUTME: One-way token fingerprinting and expiry extraction
// ABOUTME: Fingerprints are what the store persists; raw tokens never leave the credential store

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Fingerprint returns the SHA-256 hex digest of a token. The digest is safe
// to persist: it proves presence and freshness of a secret without exposing it.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenExpiry extracts the exp claim from an AT Protocol session JWT without
// verifying its signature; the PDS is the verifier, we only need the deadline.
// Returns false if the token isn't a parseable JWT or carries no expiry.
func TokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
