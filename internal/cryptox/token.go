package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

// RefreshTokenBytes is the amount of entropy behind a refresh token.
const RefreshTokenBytes = 64

// NewRefreshToken returns a URL-safe encoding of RefreshTokenBytes random
// bytes read from r (crypto/rand when r is nil).
func NewRefreshToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, RefreshTokenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken is the lookup key stored instead of the token itself.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
