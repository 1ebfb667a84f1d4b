package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const digestBytes = 12

var errRandomSize = errors.New("random value size must be > 0")

// NewRandomValue returns n bytes from crypto/rand encoded as unpadded
// base64url, which is safe in query strings and as a JSON string.
func NewRandomValue(n int) (string, error) {
	if n <= 0 {
		return "", errRandomSize
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	// base64url, no padding
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Digest returns a short stable identifier for value. It is used in logs and
// audit events so raw nonces and states never leave the store.
func Digest(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:digestBytes])
}
